// Package provider wires a performance monitor and an analytics tracker
// to the lifetime of a single page session.
package provider

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/skaes/webvitals-tools/collector"
	"github.com/skaes/webvitals-tools/config"
	"github.com/skaes/webvitals-tools/formats/webvitals"
	httpclient "github.com/skaes/webvitals-tools/http-client"
	log "github.com/skaes/webvitals-tools/logging"
)

const maxStackLength = 500

// Options configure a Provider.
type Options struct {
	// EnableInDevelopment turns analytics on outside production.
	EnableInDevelopment bool
	// Tracker receives analytics events. Defaults to a no-op tracker.
	Tracker collector.EventTracker
	// Sink receives performance reports.
	Sink collector.ReportSink
	// OnMetric is called for every new metric after analytics events
	// have been sent.
	OnMetric func(webvitals.Metric)
	Now      func() time.Time
}

// UserTracker is implemented by trackers that can attribute events to
// users.
type UserTracker interface {
	SetUserId(id string)
	SetUserProperties(properties map[string]interface{})
}

// Provider exposes analytics helpers which do nothing until the
// provider has been mounted in an enabled environment.
type Provider struct {
	site    *config.Site
	opts    Options
	tracker collector.EventTracker

	mutex       sync.Mutex
	initialized bool
	platform    collector.Platform
	monitor     *collector.Monitor
	observed    []webvitals.Metric
}

func New(site *config.Site, opts Options) *Provider {
	tracker := opts.Tracker
	if tracker == nil {
		tracker = httpclient.NoopTracker{}
	}
	return &Provider{site: site, opts: opts, tracker: tracker}
}

func (p *Provider) now() time.Time {
	if p.opts.Now != nil {
		return p.opts.Now()
	}
	return time.Now()
}

func (p *Provider) enabled() bool {
	return p.site.Enabled() || p.opts.EnableInDevelopment
}

// Mount initializes analytics for a page running on platform. It returns
// whether the provider is initialized afterwards.
func (p *Provider) Mount(platform collector.Platform) bool {
	p.mutex.Lock()
	if p.initialized || !p.enabled() {
		defer p.mutex.Unlock()
		return p.initialized
	}
	p.initialized = true
	p.platform = platform
	p.tracker.TrackEvent("analytics_initialized", map[string]interface{}{
		"environment": p.site.Environment,
		"timestamp":   p.now().UnixMilli(),
	})
	log.Info("analytics initialized (%s)", p.site.Environment)
	var monitor *collector.Monitor
	if p.site.EnableCoreWebVitals {
		monitor = collector.NewMonitor(platform, collector.Options{
			OnMetric: []func(webvitals.Metric){p.handleMetric},
			Tracker:  p.tracker,
			Sink:     p.opts.Sink,
			Now:      p.opts.Now,
		})
		p.monitor = monitor
	}
	p.mutex.Unlock()

	if monitor != nil {
		monitor.Initialize()
	}
	return true
}

// Unmount sends a final report, detaches all observers and returns the
// provider to its uninitialized state.
func (p *Provider) Unmount() {
	p.mutex.Lock()
	monitor := p.monitor
	p.monitor = nil
	p.platform = nil
	p.observed = nil
	p.initialized = false
	p.mutex.Unlock()

	if monitor != nil {
		monitor.Flush()
		monitor.Disconnect()
	}
}

func (p *Provider) Initialized() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.initialized
}

// Monitor returns the active monitor, or nil.
func (p *Provider) Monitor() *collector.Monitor {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.monitor
}

func (p *Provider) environment() (collector.Environment, bool) {
	p.mutex.Lock()
	platform := p.platform
	p.mutex.Unlock()
	if platform == nil {
		return collector.Environment{}, false
	}
	return platform.Environment(), true
}

func (p *Provider) pagePath() string {
	env, ok := p.environment()
	if !ok {
		return "unknown"
	}
	u, err := url.Parse(env.URL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (p *Provider) handleMetric(metric webvitals.Metric) {
	path := p.pagePath()
	value := webvitals.AnalyticsValue(metric.Name, metric.Value)
	p.tracker.TrackEvent("core_web_vital", map[string]interface{}{
		"metric_name":     metric.Name.String(),
		"metric_value":    value,
		"metric_rating":   string(metric.Rating),
		"metric_delta":    webvitals.AnalyticsValue(metric.Name, metric.Delta),
		"navigation_type": string(metric.NavigationType),
		"page_path":       path,
	})
	p.tracker.TrackEvent("cwv_"+strings.ToLower(metric.Name.String()), map[string]interface{}{
		"value":           value,
		"rating":          string(metric.Rating),
		"navigation_type": string(metric.NavigationType),
	})
	if p.opts.OnMetric != nil {
		p.opts.OnMetric(metric)
	}

	p.mutex.Lock()
	p.observed = append(p.observed, metric)
	observed := append([]webvitals.Metric(nil), p.observed...)
	p.mutex.Unlock()

	if !hasKeyMetrics(observed) {
		return
	}
	score, grade := webvitals.Score(observed)
	p.tracker.TrackEvent("performance_score", map[string]interface{}{
		"score":         score,
		"grade":         string(grade),
		"metrics_count": len(observed),
		"page_path":     path,
	})
	log.Debug("performance score: %d (%s)", score, grade)
}

func hasKeyMetrics(metrics []webvitals.Metric) bool {
	var lcp, fid, cls bool
	for _, m := range metrics {
		switch m.Name {
		case webvitals.LCP:
			lcp = true
		case webvitals.FID:
			fid = true
		case webvitals.CLS:
			cls = true
		}
	}
	return lcp && fid && cls
}

// TrackEvent sends an event annotated with a timestamp and the page
// location.
func (p *Provider) TrackEvent(name string, params map[string]interface{}) {
	if !p.Initialized() {
		return
	}
	event := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		event[k] = v
	}
	event["timestamp"] = p.now().UnixMilli()
	event["page_location"] = p.pagePath()
	p.tracker.TrackEvent(name, event)
}

// TrackError reports an application error. The error's detailed
// representation is truncated.
func (p *Provider) TrackError(err error, context string) {
	if !p.Initialized() || err == nil {
		return
	}
	if context == "" {
		context = "unknown"
	}
	stack := fmt.Sprintf("%+v", err)
	if len(stack) > maxStackLength {
		stack = stack[:maxStackLength]
	}
	userAgent := "unknown"
	if env, ok := p.environment(); ok {
		userAgent = env.UserAgent
	}
	p.tracker.TrackEvent("application_error", map[string]interface{}{
		"error_message": err.Error(),
		"error_context": context,
		"error_stack":   stack,
		"page_location": p.pagePath(),
		"user_agent":    userAgent,
	})
}

// TrackPerformance sends a single metric as a performance_<name> event.
func (p *Provider) TrackPerformance(metric webvitals.Metric) {
	p.TrackEvent("performance_"+strings.ToLower(metric.Name.String()), map[string]interface{}{
		"value":           webvitals.AnalyticsValue(metric.Name, metric.Value),
		"rating":          string(metric.Rating),
		"navigation_type": string(metric.NavigationType),
		"metric_id":       metric.Id,
	})
}

func (p *Provider) SetUserID(id string) {
	if !p.Initialized() {
		return
	}
	if ut, ok := p.tracker.(UserTracker); ok {
		ut.SetUserId(id)
	}
}

func (p *Provider) SetUserProperties(properties map[string]interface{}) {
	if !p.Initialized() {
		return
	}
	if ut, ok := p.tracker.(UserTracker); ok {
		ut.SetUserProperties(properties)
	}
}
