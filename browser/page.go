// Package browser runs pages in a headless Chrome and exposes their
// performance timeline as a collector.Platform.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/mapstructure"

	"github.com/skaes/webvitals-tools/collector"
	"github.com/skaes/webvitals-tools/formats/webvitals"
	log "github.com/skaes/webvitals-tools/logging"
)

// ErrChromeStartupFailure indicates Chrome could not be started.
var ErrChromeStartupFailure = errors.New("chrome failed to start")

// Options configure the browser a page runs in.
type Options struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	res := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("log-level", "3"),
		chromedp.Flag("disable-background-timer-throttling", "true"),
	}
	if opts.UserAgent != "" {
		res = append(res, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Width > 0 && opts.Height > 0 {
		res = append(res, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.Headless {
		res = append(res, chromedp.Headless)
	}
	return res
}

type registration struct {
	t  collector.EntryType
	fn func([]collector.Entry)
}

// Page is a browser tab. It implements collector.Platform.
type Page struct {
	ctx    context.Context
	cancel func()

	mutex     sync.Mutex
	supported map[collector.EntryType]bool
	observers map[int]registration
	hooks     map[int]func()
	nextId    int
	env       collector.Environment
}

func newPage(supported []string) *Page {
	p := &Page{
		supported: make(map[collector.EntryType]bool),
		observers: make(map[int]registration),
		hooks:     make(map[int]func()),
		env:       collector.Environment{NavigationType: webvitals.Navigate},
	}
	for _, t := range supported {
		p.supported[collector.EntryType(t)] = true
	}
	return p
}

// NewPage starts a browser, installs the entry buffering script and
// determines the supported entry types.
func NewPage(parent context.Context, opts Options) (*Page, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocatorOptions(opts)...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTask()
		cancelAlloc()
	}

	var supported []string
	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrapScript).Do(ctx)
			return err
		}),
		chromedp.Evaluate(supportedScript, &supported),
	)
	if err != nil {
		cancel()
		if isChromeStartupFailure(err) {
			return nil, fmt.Errorf("%w: %s", ErrChromeStartupFailure, err)
		}
		return nil, err
	}
	log.Debug("supported entry types: %s", strings.Join(supported, ", "))

	p := newPage(supported)
	p.ctx = taskCtx
	p.cancel = cancel
	return p, nil
}

func isChromeStartupFailure(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "chrome failed to start") ||
		strings.Contains(s, "failed to start chrome") ||
		strings.Contains(s, "failed to allocate") ||
		strings.Contains(s, "executable file not found")
}

// run executes actions in the browser, bounded by the lifetime of ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and refreshes the page environment.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	return p.refreshEnvironment(ctx)
}

// Interact clicks into the page, which produces first-input and event
// entries.
func (p *Page) Interact(ctx context.Context) error {
	return p.run(ctx, chromedp.MouseClickXY(5, 5))
}

func (p *Page) refreshEnvironment(ctx context.Context) error {
	var raw map[string]interface{}
	if err := p.run(ctx, chromedp.Evaluate(environmentScript, &raw)); err != nil {
		return err
	}
	env, err := decodeEnvironment(raw)
	if err != nil {
		return err
	}
	p.mutex.Lock()
	p.env = env
	p.mutex.Unlock()
	return nil
}

// Poll drains the buffered entries and hands them to the registered
// observers. Hide hooks run when the page has been hidden.
func (p *Page) Poll(ctx context.Context) error {
	hidden, err := p.poll(ctx)
	if hidden {
		p.fireHooks()
	}
	return err
}

// Hide performs a final poll and runs the hide hooks.
func (p *Page) Hide(ctx context.Context) error {
	_, err := p.poll(ctx)
	p.fireHooks()
	return err
}

func (p *Page) poll(ctx context.Context) (bool, error) {
	var raw map[string]interface{}
	if err := p.run(ctx, chromedp.Evaluate(drainScript, &raw)); err != nil {
		return false, err
	}
	batches, hidden, err := decodeDrain(raw)
	if err != nil {
		return false, err
	}
	p.dispatch(batches)
	return hidden, nil
}

// Close shuts down the browser.
func (p *Page) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Page) dispatch(batches map[collector.EntryType][][]collector.Entry) {
	for _, t := range collector.EntryTypes {
		for _, batch := range batches[t] {
			for _, fn := range p.observersOf(t) {
				fn(batch)
			}
		}
	}
}

func (p *Page) observersOf(t collector.EntryType) []func([]collector.Entry) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var res []func([]collector.Entry)
	for i := 0; i < p.nextId; i++ {
		if r, ok := p.observers[i]; ok && r.t == t {
			res = append(res, r.fn)
		}
	}
	return res
}

func (p *Page) fireHooks() {
	p.mutex.Lock()
	var hooks []func()
	for i := 0; i < p.nextId; i++ {
		if fn, ok := p.hooks[i]; ok {
			hooks = append(hooks, fn)
		}
	}
	p.mutex.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

type observation struct {
	page *Page
	id   int
}

func (o observation) Disconnect() {
	o.page.mutex.Lock()
	defer o.page.mutex.Unlock()
	delete(o.page.observers, o.id)
}

// Observe implements collector.Platform.
func (p *Page) Observe(t collector.EntryType, fn func([]collector.Entry)) (collector.Observation, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.supported[t] {
		return nil, fmt.Errorf("%w: %s", collector.ErrUnsupported, t)
	}
	id := p.nextId
	p.nextId++
	p.observers[id] = registration{t: t, fn: fn}
	return observation{page: p, id: id}, nil
}

// Environment implements collector.Platform.
func (p *Page) Environment() collector.Environment {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.env
}

// OnHide implements collector.Platform.
func (p *Page) OnHide(fn func()) func() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	id := p.nextId
	p.nextId++
	p.hooks[id] = fn
	return func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		delete(p.hooks, id)
	}
}

type pageEnvironment struct {
	URL            string                `mapstructure:"url"`
	ViewportWidth  int                   `mapstructure:"viewportWidth"`
	UserAgent      string                `mapstructure:"userAgent"`
	Connection     *collector.Connection `mapstructure:"connection"`
	NavigationType string                `mapstructure:"navigationType"`
}

func decodeEnvironment(raw map[string]interface{}) (collector.Environment, error) {
	var pe pageEnvironment
	if err := mapstructure.Decode(raw, &pe); err != nil {
		return collector.Environment{}, fmt.Errorf("decoding page environment: %w", err)
	}
	return collector.Environment{
		URL:            pe.URL,
		ViewportWidth:  pe.ViewportWidth,
		UserAgent:      pe.UserAgent,
		Connection:     pe.Connection,
		NavigationType: webvitals.NavigationTypeFromTiming(pe.NavigationType),
	}, nil
}

type drained struct {
	Entries map[string][][]map[string]interface{} `mapstructure:"entries"`
	Hidden  bool                                  `mapstructure:"hidden"`
}

func decodeDrain(raw map[string]interface{}) (map[collector.EntryType][][]collector.Entry, bool, error) {
	var d drained
	if err := mapstructure.Decode(raw, &d); err != nil {
		return nil, false, fmt.Errorf("decoding entries: %w", err)
	}
	batches := make(map[collector.EntryType][][]collector.Entry, len(d.Entries))
	for t, rawBatches := range d.Entries {
		for _, rawBatch := range rawBatches {
			batch := make([]collector.Entry, 0, len(rawBatch))
			for _, rawEntry := range rawBatch {
				var e collector.Entry
				if err := mapstructure.Decode(rawEntry, &e); err != nil {
					return nil, false, fmt.Errorf("decoding %s entry: %w", t, err)
				}
				batch = append(batch, e)
			}
			batches[collector.EntryType(t)] = append(batches[collector.EntryType(t)], batch)
		}
	}
	return batches, d.Hidden, nil
}
