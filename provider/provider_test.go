package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skaes/webvitals-tools/collector"
	"github.com/skaes/webvitals-tools/config"
	"github.com/skaes/webvitals-tools/formats/webvitals"
	httpclient "github.com/skaes/webvitals-tools/http-client"
)

type page struct {
	mutex    sync.Mutex
	handlers map[collector.EntryType]func([]collector.Entry)
	hooks    []func()
}

type observation struct {
	page *page
	t    collector.EntryType
}

func (o observation) Disconnect() {
	o.page.mutex.Lock()
	defer o.page.mutex.Unlock()
	delete(o.page.handlers, o.t)
}

func newPage() *page {
	return &page{handlers: make(map[collector.EntryType]func([]collector.Entry))}
}

func (p *page) Observe(t collector.EntryType, fn func([]collector.Entry)) (collector.Observation, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.handlers[t] = fn
	return observation{p, t}, nil
}

func (p *page) Environment() collector.Environment {
	return collector.Environment{
		URL:            "https://example.com/projects/one?ref=home",
		ViewportWidth:  375,
		UserAgent:      "Mozilla/5.0 (iPhone)",
		NavigationType: webvitals.Navigate,
	}
}

func (p *page) OnHide(fn func()) func() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.hooks = append(p.hooks, fn)
	return func() {}
}

func (p *page) deliver(t collector.EntryType, entries ...collector.Entry) {
	p.mutex.Lock()
	fn := p.handlers[t]
	p.mutex.Unlock()
	if fn != nil {
		fn(entries)
	}
}

type trackedEvent struct {
	name   string
	params map[string]interface{}
}

type tracker struct {
	mutex      sync.Mutex
	events     []trackedEvent
	userId     string
	properties map[string]interface{}
}

func (t *tracker) TrackEvent(name string, params map[string]interface{}) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = append(t.events, trackedEvent{name, params})
}

func (t *tracker) SetUserId(id string) {
	t.userId = id
}

func (t *tracker) SetUserProperties(properties map[string]interface{}) {
	t.properties = properties
}

func (t *tracker) named(name string) []trackedEvent {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	var res []trackedEvent
	for _, e := range t.events {
		if e.name == name {
			res = append(res, e)
		}
	}
	return res
}

type sink struct {
	reports []*webvitals.Report
}

func (s *sink) Send(r *webvitals.Report) {
	s.reports = append(s.reports, r)
}

var now = func() time.Time { return time.UnixMilli(1700000000000) }

func production() *config.Site {
	return &config.Site{Environment: "production", Production: true, EnableCoreWebVitals: true}
}

func TestDisabledOutsideProduction(t *testing.T) {
	tr := &tracker{}
	p := New(&config.Site{Environment: "development", EnableCoreWebVitals: true}, Options{Tracker: tr})
	assert.False(t, p.Mount(newPage()))
	assert.False(t, p.Initialized())
	assert.Nil(t, p.Monitor())

	p.TrackEvent("click", nil)
	p.TrackError(errors.New("boom"), "")
	p.SetUserID("u1")
	assert.Empty(t, tr.events)
	assert.Empty(t, tr.userId)
}

func TestEnableInDevelopment(t *testing.T) {
	tr := &tracker{}
	p := New(&config.Site{Environment: "development", EnableCoreWebVitals: true}, Options{Tracker: tr, EnableInDevelopment: true, Now: now})
	assert.True(t, p.Mount(newPage()))
	initialized := tr.named("analytics_initialized")
	require.Len(t, initialized, 1)
	assert.Equal(t, "development", initialized[0].params["environment"])
	assert.Equal(t, int64(1700000000000), initialized[0].params["timestamp"])
}

func TestMountIsIdempotent(t *testing.T) {
	tr := &tracker{}
	p := New(production(), Options{Tracker: tr})
	pg := newPage()
	assert.True(t, p.Mount(pg))
	monitor := p.Monitor()
	assert.True(t, p.Mount(pg))
	assert.Same(t, monitor, p.Monitor())
	assert.Len(t, tr.named("analytics_initialized"), 1)
}

func TestCoreWebVitalsDisabled(t *testing.T) {
	site := production()
	site.EnableCoreWebVitals = false
	p := New(site, Options{})
	assert.True(t, p.Mount(newPage()))
	assert.Nil(t, p.Monitor())
	assert.NotPanics(t, p.Unmount)
}

func TestMetricEvents(t *testing.T) {
	tr := &tracker{}
	var seen []webvitals.Metric
	p := New(production(), Options{Tracker: tr, Now: now, OnMetric: func(m webvitals.Metric) { seen = append(seen, m) }})
	pg := newPage()
	require.True(t, p.Mount(pg))

	pg.deliver(collector.LargestContentfulPaint, collector.Entry{RenderTime: 2000})
	pg.deliver(collector.FirstInput, collector.Entry{StartTime: 100, ProcessingStart: 150})
	assert.Empty(t, tr.named("performance_score"))
	pg.deliver(collector.LayoutShift, collector.Entry{Value: 0.05})

	assert.Len(t, seen, 3)
	cwv := tr.named("core_web_vital")
	require.Len(t, cwv, 3)
	assert.Equal(t, "CLS", cwv[2].params["metric_name"])
	assert.Equal(t, int64(50), cwv[2].params["metric_value"])
	assert.Equal(t, "/projects/one", cwv[2].params["page_path"])
	assert.Len(t, tr.named("cwv_lcp"), 1)
	assert.Len(t, tr.named("LCP"), 1)

	scores := tr.named("performance_score")
	require.Len(t, scores, 1)
	assert.Equal(t, 100, scores[0].params["score"])
	assert.Equal(t, "A", scores[0].params["grade"])
	assert.Equal(t, 3, scores[0].params["metrics_count"])
}

func TestHelpers(t *testing.T) {
	tr := &tracker{}
	p := New(production(), Options{Tracker: tr, Now: now})
	require.True(t, p.Mount(newPage()))

	p.TrackEvent("cta_click", map[string]interface{}{"label": "contact"})
	clicks := tr.named("cta_click")
	require.Len(t, clicks, 1)
	assert.Equal(t, "contact", clicks[0].params["label"])
	assert.Equal(t, int64(1700000000000), clicks[0].params["timestamp"])
	assert.Equal(t, "/projects/one", clicks[0].params["page_location"])

	p.TrackError(errors.New(strings.Repeat("x", 600)), "")
	errs := tr.named("application_error")
	require.Len(t, errs, 1)
	assert.Equal(t, "unknown", errs[0].params["error_context"])
	assert.Len(t, errs[0].params["error_stack"], maxStackLength)
	assert.Equal(t, "Mozilla/5.0 (iPhone)", errs[0].params["user_agent"])

	p.TrackPerformance(webvitals.NewMetric(webvitals.CLS, 0.3, 0.3, "1-a", webvitals.Reload))
	perf := tr.named("performance_cls")
	require.Len(t, perf, 1)
	assert.Equal(t, int64(300), perf[0].params["value"])
	assert.Equal(t, "poor", perf[0].params["rating"])
	assert.Equal(t, "1-a", perf[0].params["metric_id"])

	p.SetUserID("user-7")
	p.SetUserProperties(map[string]interface{}{"plan": "pro"})
	assert.Equal(t, "user-7", tr.userId)
	assert.Equal(t, "pro", tr.properties["plan"])
}

func TestUnmountFlushesAndResets(t *testing.T) {
	tr := &tracker{}
	s := &sink{}
	p := New(production(), Options{Tracker: tr, Sink: s, Now: now})
	pg := newPage()
	require.True(t, p.Mount(pg))
	pg.deliver(collector.Paint, collector.Entry{Name: "first-contentful-paint", StartTime: 640})

	p.Unmount()
	require.Len(t, s.reports, 1)
	assert.Equal(t, webvitals.Mobile, s.reports[0].DeviceType)
	require.Len(t, s.reports[0].Metrics, 1)
	assert.False(t, p.Initialized())
	assert.Nil(t, p.Monitor())
	assert.Empty(t, pg.handlers)

	before := len(tr.events)
	p.TrackEvent("ignored", nil)
	assert.Len(t, tr.events, before)
	assert.True(t, p.Mount(pg))
}

func TestReportAfterFailedSend(t *testing.T) {
	var mutex sync.Mutex
	posts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		posts++
		mutex.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := httpclient.NewHttpClient(server.URL, time.Second)
	require.NoError(t, err)
	reports := httpclient.NewSink(context.Background(), client)
	p := New(production(), Options{Sink: reports, Now: now})
	pg := newPage()
	require.True(t, p.Mount(pg))
	pg.deliver(collector.Paint, collector.Entry{Name: "first-contentful-paint", StartTime: 640})

	p.Monitor().Flush()
	require.True(t, reports.Wait(2*time.Second))
	mutex.Lock()
	assert.Equal(t, 1, posts)
	mutex.Unlock()

	pg.deliver(collector.Navigation, collector.Entry{RequestStart: 10, ResponseStart: 150})
	report := p.Monitor().GenerateReport()
	require.NotNil(t, report)
	assert.Equal(t, "https://example.com/projects/one?ref=home", report.URL)
	assert.Equal(t, int64(1700000000000), report.Timestamp)
	assert.Equal(t, webvitals.Mobile, report.DeviceType)
	require.Len(t, report.Metrics, 2)
	assert.Equal(t, webvitals.FCP, report.Metrics[0].Name)
	assert.Equal(t, webvitals.TTFB, report.Metrics[1].Name)
	_, err = json.Marshal(report)
	assert.NoError(t, err)
}
