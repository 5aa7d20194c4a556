package collector

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	uuid "github.com/nu7hatch/gouuid"
	log "github.com/skaes/webvitals-tools/logging"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

// EventTracker receives analytics events. Implementations must not block.
type EventTracker interface {
	TrackEvent(name string, params map[string]interface{})
}

// ReportSink delivers performance reports. Send must return immediately.
type ReportSink interface {
	Send(report *webvitals.Report)
}

// Options configure a Monitor. All fields are optional.
type Options struct {
	// OnMetric is called for every record not reported before.
	OnMetric []func(webvitals.Metric)
	// Tracker receives one analytics event per reported record.
	Tracker EventTracker
	// Sink receives the report produced by Flush.
	Sink ReportSink
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor collects the metrics of a single page session.
type Monitor struct {
	platform Platform
	opts     Options
	store    *Store

	mutex        sync.Mutex
	initialized  bool
	observations []Observation
	cancelHide   func()
}

func NewMonitor(platform Platform, opts Options) *Monitor {
	return &Monitor{
		platform: platform,
		opts:     opts,
		store:    NewStore(),
	}
}

func (m *Monitor) now() time.Time {
	if m.opts.Now != nil {
		return m.opts.Now()
	}
	return time.Now()
}

// Initialize attaches an observer for every entry type the platform
// supports and registers the hide hook. Calling it again is a no-op.
func (m *Monitor) Initialize() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.initialized || m.platform == nil {
		return
	}
	m.initialized = true
	for _, t := range EntryTypes {
		o, err := m.platform.Observe(t, observers[t](m.emit))
		if err != nil {
			log.Debug("not observing %s: %s", t, err)
			continue
		}
		m.observations = append(m.observations, o)
	}
	m.cancelHide = m.platform.OnHide(m.Flush)
}

// Initialized reports whether observers are attached.
func (m *Monitor) Initialized() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.initialized
}

func (m *Monitor) emit(name webvitals.Name, value, delta float64) {
	nav := webvitals.Navigate
	if m.platform != nil {
		if t := m.platform.Environment().NavigationType; t != "" {
			nav = t
		}
	}
	m.ReportMetric(webvitals.NewMetric(name, value, delta, m.generateId(), nav))
}

// ReportMetric stores a record and notifies callbacks and the tracker,
// unless the same observation was reported before.
func (m *Monitor) ReportMetric(metric webvitals.Metric) {
	if !m.store.Put(metric) {
		return
	}
	log.Debug("%s: %s (%s)", metric.Name, webvitals.FormatValue(metric), metric.Rating)
	for _, fn := range m.opts.OnMetric {
		fn(metric)
	}
	if m.opts.Tracker != nil {
		m.opts.Tracker.TrackEvent(metric.Name.String(), map[string]interface{}{
			"event_category": "Web Vitals",
			"event_label":    metric.Id,
			"value":          webvitals.AnalyticsValue(metric.Name, metric.Value),
			"metric_rating":  string(metric.Rating),
			"metric_delta":   webvitals.AnalyticsValue(metric.Name, metric.Delta),
		})
	}
}

// Flush generates a report and hands it to the sink.
func (m *Monitor) Flush() {
	report := m.GenerateReport()
	if log.Verbose() {
		log.Debug("report: %s", spew.Sdump(report))
	}
	if m.opts.Sink != nil {
		m.opts.Sink.Send(report)
	}
}

// Metrics returns the stored records in canonical order.
func (m *Monitor) Metrics() []webvitals.Metric {
	return m.store.Values()
}

func (m *Monitor) Summary() map[webvitals.Name]webvitals.MetricSummary {
	return webvitals.Summarize(m.store.Values())
}

// Disconnect detaches all observers, drops the hide hook and clears the
// store. The monitor can be initialized again afterwards.
func (m *Monitor) Disconnect() {
	m.mutex.Lock()
	observations := m.observations
	cancel := m.cancelHide
	m.observations = nil
	m.cancelHide = nil
	m.initialized = false
	m.mutex.Unlock()

	for _, o := range observations {
		o.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
	m.store.Clear()
}

var idSequence uint64

// generateId returns "<ms>-<9 hex chars>".
func (m *Monitor) generateId() string {
	var suffix string
	if u, err := uuid.NewV4(); err == nil {
		suffix = strings.ReplaceAll(u.String(), "-", "")[:9]
	} else {
		suffix = fmt.Sprintf("%09x", atomic.AddUint64(&idSequence, 1))
	}
	return fmt.Sprintf("%d-%s", m.now().UnixMilli(), suffix)
}
