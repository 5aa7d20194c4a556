package collector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

type fakePlatform struct {
	mutex       sync.Mutex
	env         Environment
	unsupported map[EntryType]bool
	handlers    map[EntryType]func([]Entry)
	hooks       []func()
}

type fakeObservation struct {
	platform *fakePlatform
	t        EntryType
}

func (o *fakeObservation) Disconnect() {
	o.platform.mutex.Lock()
	defer o.platform.mutex.Unlock()
	delete(o.platform.handlers, o.t)
}

func newFakePlatform(unsupported ...EntryType) *fakePlatform {
	p := &fakePlatform{
		env: Environment{
			URL:            "https://example.com/news",
			ViewportWidth:  1280,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64)",
			NavigationType: webvitals.Navigate,
		},
		unsupported: make(map[EntryType]bool),
		handlers:    make(map[EntryType]func([]Entry)),
	}
	for _, t := range unsupported {
		p.unsupported[t] = true
	}
	return p
}

func (p *fakePlatform) Observe(t EntryType, fn func([]Entry)) (Observation, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.unsupported[t] {
		return nil, ErrUnsupported
	}
	p.handlers[t] = fn
	return &fakeObservation{platform: p, t: t}, nil
}

func (p *fakePlatform) Environment() Environment {
	return p.env
}

func (p *fakePlatform) OnHide(fn func()) func() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.hooks = append(p.hooks, fn)
	return func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.hooks = nil
	}
}

func (p *fakePlatform) deliver(t EntryType, entries ...Entry) {
	p.mutex.Lock()
	fn := p.handlers[t]
	p.mutex.Unlock()
	if fn != nil {
		fn(entries)
	}
}

func (p *fakePlatform) hide() {
	p.mutex.Lock()
	hooks := append([]func(){}, p.hooks...)
	p.mutex.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (p *fakePlatform) observed() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.handlers)
}

type recordingSink struct {
	mutex   sync.Mutex
	reports []*webvitals.Report
}

func (s *recordingSink) Send(r *webvitals.Report) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reports = append(s.reports, r)
}

type event struct {
	name   string
	params map[string]interface{}
}

type recordingTracker struct {
	events []event
}

func (t *recordingTracker) TrackEvent(name string, params map[string]interface{}) {
	t.events = append(t.events, event{name, params})
}

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func TestCLSAccumulatesSessionValue(t *testing.T) {
	p := newFakePlatform()
	var seen []webvitals.Metric
	m := NewMonitor(p, Options{
		OnMetric: []func(webvitals.Metric){func(metric webvitals.Metric) { seen = append(seen, metric) }},
		Now:      fixedNow,
	})
	m.Initialize()

	p.deliver(LayoutShift, Entry{Value: 0.05})
	p.deliver(LayoutShift, Entry{Value: 0.2, HadRecentInput: true})
	p.deliver(LayoutShift, Entry{Value: 0.03})
	p.deliver(LayoutShift, Entry{Value: 0.08})

	require.Len(t, seen, 3)
	assert.Equal(t, webvitals.Good, seen[0].Rating)
	assert.Equal(t, webvitals.Good, seen[1].Rating)
	assert.Equal(t, webvitals.NeedsImprovement, seen[2].Rating)
	assert.InDelta(t, 0.08, seen[2].Delta, 1e-9)

	metrics := m.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, webvitals.CLS, metrics[0].Name)
	assert.InDelta(t, 0.16, metrics[0].Value, 1e-9)
	assert.Equal(t, webvitals.NeedsImprovement, metrics[0].Rating)
}

func TestObserverPolicies(t *testing.T) {
	p := newFakePlatform()
	p.env.NavigationType = webvitals.Reload
	m := NewMonitor(p, Options{Now: fixedNow})
	m.Initialize()

	p.deliver(LargestContentfulPaint, Entry{RenderTime: 1200}, Entry{LoadTime: 3100})
	p.deliver(FirstInput, Entry{StartTime: 1000, ProcessingStart: 1040})
	p.deliver(Event, Entry{StartTime: 500, ProcessingStart: 510})
	p.deliver(Event, Entry{StartTime: 500, ProcessingStart: 510, ProcessingEnd: 760})
	p.deliver(Paint, Entry{Name: "first-paint", StartTime: 300}, Entry{Name: "first-contentful-paint", StartTime: 420})
	p.deliver(Navigation, Entry{RequestStart: 0, ResponseStart: 90})
	p.deliver(Navigation, Entry{RequestStart: 20, ResponseStart: 110})

	summary := m.Summary()
	assert.Equal(t, 3100.0, summary[webvitals.LCP].Value)
	assert.Equal(t, webvitals.NeedsImprovement, summary[webvitals.LCP].Rating)
	assert.Equal(t, 40.0, summary[webvitals.FID].Value)
	assert.Equal(t, 260.0, summary[webvitals.INP].Value)
	assert.Equal(t, 420.0, summary[webvitals.FCP].Value)
	assert.Equal(t, 90.0, summary[webvitals.TTFB].Value)
	_, hasCLS := summary[webvitals.CLS]
	assert.False(t, hasCLS)

	for _, metric := range m.Metrics() {
		assert.Equal(t, webvitals.Reload, metric.NavigationType)
		assert.Regexp(t, `^1700000000000-[0-9a-f]{9}$`, metric.Id)
	}
}

func TestDuplicateObservationsAreReportedOnce(t *testing.T) {
	tracker := &recordingTracker{}
	calls := 0
	m := NewMonitor(newFakePlatform(), Options{
		OnMetric: []func(webvitals.Metric){func(webvitals.Metric) { calls++ }},
		Tracker:  tracker,
	})
	metric := webvitals.NewMetric(webvitals.LCP, 1800, 1800, "1-abc", webvitals.Navigate)
	m.ReportMetric(metric)
	m.ReportMetric(metric)

	assert.Equal(t, 1, calls)
	require.Len(t, tracker.events, 1)
	assert.Equal(t, "LCP", tracker.events[0].name)
	assert.Equal(t, "Web Vitals", tracker.events[0].params["event_category"])
	assert.Equal(t, "1-abc", tracker.events[0].params["event_label"])
	assert.Equal(t, int64(1800), tracker.events[0].params["value"])
	assert.Len(t, m.Metrics(), 1)
}

func TestEmptyReport(t *testing.T) {
	m := NewMonitor(newFakePlatform(), Options{Now: fixedNow})
	r := m.GenerateReport()
	assert.Equal(t, "https://example.com/news", r.URL)
	assert.Equal(t, int64(1700000000000), r.Timestamp)
	assert.NotNil(t, r.Metrics)
	assert.Empty(t, r.Metrics)
	assert.Equal(t, webvitals.Desktop, r.DeviceType)
	assert.Equal(t, "unknown", r.ConnectionType)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", r.UserAgent)
}

func TestNilPlatform(t *testing.T) {
	m := NewMonitor(nil, Options{})
	m.Initialize()
	assert.False(t, m.Initialized())
	r := m.GenerateReport()
	assert.Equal(t, "", r.URL)
	assert.Equal(t, webvitals.Desktop, r.DeviceType)
	assert.NotNil(t, r.Metrics)
}

func TestClassifyDevice(t *testing.T) {
	assert.Equal(t, webvitals.Mobile, ClassifyDevice(400, "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"))
	assert.Equal(t, webvitals.Desktop, ClassifyDevice(1200, "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
	assert.Equal(t, webvitals.Mobile, ClassifyDevice(768, ""))
	assert.Equal(t, webvitals.Tablet, ClassifyDevice(769, ""))
	assert.Equal(t, webvitals.Tablet, ClassifyDevice(1280, "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)"))
	assert.Equal(t, webvitals.Mobile, ClassifyDevice(1920, "Mozilla/5.0 (Linux; Android 14) Mobile"))
}

func TestConnectionType(t *testing.T) {
	assert.Equal(t, "unknown", ConnectionType(nil))
	assert.Equal(t, "4g", ConnectionType(&Connection{EffectiveType: "4g", Type: "wifi"}))
	assert.Equal(t, "wifi", ConnectionType(&Connection{Type: "wifi"}))
	assert.Equal(t, "unknown", ConnectionType(&Connection{}))
}

func TestUnsupportedEntryTypesAreSkipped(t *testing.T) {
	p := newFakePlatform(Event, LayoutShift)
	m := NewMonitor(p, Options{})
	assert.NotPanics(t, m.Initialize)
	assert.True(t, m.Initialized())
	assert.Equal(t, len(EntryTypes)-2, p.observed())

	p.deliver(LayoutShift, Entry{Value: 0.5})
	p.deliver(FirstInput, Entry{StartTime: 10, ProcessingStart: 30})
	metrics := m.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, webvitals.FID, metrics[0].Name)
}

func TestInitializeIsIdempotent(t *testing.T) {
	p := newFakePlatform()
	m := NewMonitor(p, Options{})
	m.Initialize()
	m.Initialize()
	assert.Len(t, p.hooks, 1)
	assert.Equal(t, len(EntryTypes), p.observed())
}

func TestHideFlushesReports(t *testing.T) {
	p := newFakePlatform()
	sink := &recordingSink{}
	m := NewMonitor(p, Options{Sink: sink, Now: fixedNow})
	m.Initialize()

	p.deliver(Paint, Entry{Name: "first-contentful-paint", StartTime: 900})
	p.hide()
	p.deliver(Navigation, Entry{RequestStart: 10, ResponseStart: 200})
	p.hide()

	require.Len(t, sink.reports, 2)
	assert.Len(t, sink.reports[0].Metrics, 1)
	assert.Len(t, sink.reports[1].Metrics, 2)
	assert.Equal(t, webvitals.FCP, sink.reports[1].Metrics[0].Name)
	assert.Equal(t, webvitals.TTFB, sink.reports[1].Metrics[1].Name)
}

func TestDisconnect(t *testing.T) {
	p := newFakePlatform()
	sink := &recordingSink{}
	m := NewMonitor(p, Options{Sink: sink})
	m.Initialize()
	p.deliver(Paint, Entry{Name: "first-contentful-paint", StartTime: 900})

	m.Disconnect()
	assert.False(t, m.Initialized())
	assert.Empty(t, m.Metrics())
	assert.Equal(t, 0, p.observed())
	p.hide()
	assert.Empty(t, sink.reports)

	m.Initialize()
	assert.Equal(t, len(EntryTypes), p.observed())
	p.deliver(Paint, Entry{Name: "first-contentful-paint", StartTime: 700})
	assert.Equal(t, 700.0, m.Metrics()[0].Value)
}

func TestFIDReportsFirstInputOnly(t *testing.T) {
	p := newFakePlatform()
	calls := 0
	m := NewMonitor(p, Options{
		OnMetric: []func(webvitals.Metric){func(metric webvitals.Metric) {
			if metric.Name == webvitals.FID {
				calls++
			}
		}},
	})
	m.Initialize()

	p.deliver(FirstInput, Entry{StartTime: 1000})
	p.deliver(FirstInput, Entry{StartTime: 1000, ProcessingStart: 1020}, Entry{StartTime: 2000, ProcessingStart: 2500})
	p.deliver(FirstInput, Entry{StartTime: 3000, ProcessingStart: 3500})

	assert.Equal(t, 1, calls)
	summary := m.Summary()
	assert.Equal(t, 20.0, summary[webvitals.FID].Value)
	assert.Equal(t, webvitals.Good, summary[webvitals.FID].Rating)
}
