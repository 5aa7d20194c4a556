package webvitals

import (
	"errors"
	"fmt"
	"math"
)

const RoutingKeyPrefix = "frontend"
const RoutingKeyMsgType = "webvitals"

// ErrUnknownName is returned when parsing a metric name outside the six
// tracked kinds.
var ErrUnknownName = errors.New("unknown web vital")

// Name identifies one of the tracked metric kinds.
type Name uint8

const (
	LCP Name = iota + 1 // Largest Contentful Paint, ms
	FID                 // First Input Delay, ms
	CLS                 // Cumulative Layout Shift, unitless
	FCP                 // First Contentful Paint, ms
	TTFB                // Time to First Byte, ms
	INP                 // Interaction to Next Paint, ms
)

// Names lists all metric kinds in canonical order.
var Names = []Name{LCP, FID, CLS, FCP, TTFB, INP}

var nameStrings = map[Name]string{
	LCP:  "LCP",
	FID:  "FID",
	CLS:  "CLS",
	FCP:  "FCP",
	TTFB: "TTFB",
	INP:  "INP",
}

func (n Name) String() string {
	if s, ok := nameStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Name(%d)", uint8(n))
}

// Valid reports whether n is one of the six known kinds.
func (n Name) Valid() bool {
	_, ok := nameStrings[n]
	return ok
}

// Unitless is true for CLS, whose value is a score rather than a latency.
func (n Name) Unitless() bool {
	return n == CLS
}

func ParseName(s string) (Name, error) {
	for n, str := range nameStrings {
		if str == s {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownName, s)
}

// MarshalText renders unknown names as the empty string.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(nameStrings[n]), nil
}

// UnmarshalText accepts unknown names and leaves n invalid, so that a
// single bogus metric does not reject a whole report.
func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := ParseName(string(text))
	if err != nil {
		*n = 0
		return nil
	}
	*n = parsed
	return nil
}

// Rating is the qualitative classification of a metric value.
type Rating string

const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needs-improvement"
	Poor             Rating = "poor"
)

func (r Rating) Valid() bool {
	return r == Good || r == NeedsImprovement || r == Poor
}

// Threshold holds the upper bounds of the good and needs-improvement
// ranges. Values above Poor are rated poor.
type Threshold struct {
	Good float64 `json:"good"`
	Poor float64 `json:"poor"`
}

// Thresholds is the rating table.
var Thresholds = map[Name]Threshold{
	LCP:  {Good: 2500, Poor: 4000},
	FID:  {Good: 100, Poor: 300},
	CLS:  {Good: 0.1, Poor: 0.25},
	FCP:  {Good: 1800, Poor: 3000},
	TTFB: {Good: 800, Poor: 1800},
	INP:  {Good: 200, Poor: 500},
}

// Rate maps a metric value to its rating. Unknown names are rated poor.
func Rate(name Name, value float64) Rating {
	t, ok := Thresholds[name]
	if !ok {
		return Poor
	}
	switch {
	case value <= t.Good:
		return Good
	case value <= t.Poor:
		return NeedsImprovement
	default:
		return Poor
	}
}

// NavigationType describes how the page was reached.
type NavigationType string

const (
	Navigate         NavigationType = "navigate"
	Reload           NavigationType = "reload"
	BackForward      NavigationType = "back-forward"
	BackForwardCache NavigationType = "back-forward-cache"
)

func (t NavigationType) Valid() bool {
	switch t {
	case Navigate, Reload, BackForward, BackForwardCache:
		return true
	}
	return false
}

// NavigationTypeFromTiming converts the type of a navigation timing
// entry. Only reload and back_forward are distinguished.
func NavigationTypeFromTiming(entryType string) NavigationType {
	switch entryType {
	case "reload":
		return Reload
	case "back_forward":
		return BackForward
	default:
		return Navigate
	}
}

// DeviceType is the coarse device class of the reporting client.
type DeviceType string

const (
	Mobile  DeviceType = "mobile"
	Desktop DeviceType = "desktop"
	Tablet  DeviceType = "tablet"
)

// Metric represents a single observation of a single metric.
type Metric struct {
	Name           Name           `json:"name"`
	Value          float64        `json:"value"`
	Rating         Rating         `json:"rating"`
	Delta          float64        `json:"delta"`
	Id             string         `json:"id"`
	NavigationType NavigationType `json:"navigationType"`
}

// NewMetric builds a rated metric record.
func NewMetric(name Name, value, delta float64, id string, nav NavigationType) Metric {
	return Metric{
		Name:           name,
		Value:          value,
		Rating:         Rate(name, value),
		Delta:          delta,
		Id:             id,
		NavigationType: nav,
	}
}

func (m Metric) Valid() bool {
	return m.Name.Valid() && m.Rating.Valid() && m.NavigationType.Valid() && m.Id != ""
}

// Key identifies a single observation for deduplication.
func (m Metric) Key() string {
	return m.Name.String() + "-" + m.Id
}

// Report is a snapshot of all metrics collected for a page.
type Report struct {
	URL            string     `json:"url"`
	Timestamp      int64      `json:"timestamp"`
	Metrics        []Metric   `json:"metrics"`
	DeviceType     DeviceType `json:"deviceType"`
	ConnectionType string     `json:"connectionType"`
	UserAgent      string     `json:"userAgent"`
}

// FormatValue renders a metric value for humans: CLS with three
// decimals, latencies as rounded milliseconds.
func FormatValue(m Metric) string {
	if m.Name.Unitless() {
		return fmt.Sprintf("%.3f", m.Value)
	}
	if m.Name.Valid() {
		return fmt.Sprintf("%dms", int64(math.Round(m.Value)))
	}
	return fmt.Sprint(m.Value)
}

// AnalyticsValue converts a value into the integer analytics backends
// expect. CLS is scaled by 1000 first.
func AnalyticsValue(name Name, v float64) int64 {
	if name.Unitless() {
		v *= 1000
	}
	return int64(math.Round(v))
}

var recommendations = map[Name]string{
	LCP:  "Optimize images and reduce server response times to improve LCP",
	FID:  "Reduce JavaScript execution time and optimize event handlers for better FID",
	CLS:  "Set explicit dimensions for images and ads to prevent layout shifts",
	FCP:  "Optimize critical rendering path and reduce render-blocking resources",
	TTFB: "Optimize server response times and consider using a CDN",
	INP:  "Optimize JavaScript and reduce main thread blocking for better INP",
}

// Recommendation returns the remediation hint for a poorly rated metric.
func Recommendation(name Name) string {
	return recommendations[name]
}
