package collector

import (
	"errors"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

// ErrUnsupported is returned by a Platform when it cannot observe the
// requested entry type.
var ErrUnsupported = errors.New("entry type not supported")

// EntryType names a class of performance timeline entries.
type EntryType string

const (
	LargestContentfulPaint EntryType = "largest-contentful-paint"
	FirstInput             EntryType = "first-input"
	Event                  EntryType = "event"
	LayoutShift            EntryType = "layout-shift"
	Paint                  EntryType = "paint"
	Navigation             EntryType = "navigation"
)

// EntryTypes lists the entry types the observers attach to, in
// attachment order.
var EntryTypes = []EntryType{LargestContentfulPaint, FirstInput, Event, LayoutShift, Paint, Navigation}

// Entry is a raw performance timeline entry. Fields irrelevant for an
// entry type are zero.
type Entry struct {
	Name            string    `mapstructure:"name"`
	EntryType       EntryType `mapstructure:"entryType"`
	StartTime       float64   `mapstructure:"startTime"`
	Duration        float64   `mapstructure:"duration"`
	ProcessingStart float64   `mapstructure:"processingStart"`
	ProcessingEnd   float64   `mapstructure:"processingEnd"`
	RenderTime      float64   `mapstructure:"renderTime"`
	LoadTime        float64   `mapstructure:"loadTime"`
	Value           float64   `mapstructure:"value"`
	HadRecentInput  bool      `mapstructure:"hadRecentInput"`
	RequestStart    float64   `mapstructure:"requestStart"`
	ResponseStart   float64   `mapstructure:"responseStart"`
	Type            string    `mapstructure:"type"`
}

// Connection describes the network information API of a client.
type Connection struct {
	EffectiveType string
	Type          string
}

// Environment is what a platform knows about the page being measured.
type Environment struct {
	URL            string
	ViewportWidth  int
	UserAgent      string
	Connection     *Connection // nil when the network information API is missing
	NavigationType webvitals.NavigationType
}

// Observation is an attached observer.
type Observation interface {
	Disconnect()
}

// Platform is the runtime performance observers attach to.
type Platform interface {
	// Observe delivers batches of entries of the given type to fn until
	// the observation is disconnected.
	Observe(t EntryType, fn func([]Entry)) (Observation, error)
	Environment() Environment
	// OnHide registers fn to run when the page is hidden or unloaded.
	OnHide(fn func()) (cancel func())
}
