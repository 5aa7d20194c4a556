// Package performance implements the performance analytics endpoint:
// clients post performance reports, dashboards query summaries.
package performance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/xojoc/useragent"

	"github.com/skaes/webvitals-tools/formats/webvitals"
	log "github.com/skaes/webvitals-tools/logging"
	pub "github.com/skaes/webvitals-tools/publisher"
	"github.com/skaes/webvitals-tools/util"
	"github.com/skaes/webvitals-tools/vitalsd/livestream"
	"github.com/skaes/webvitals-tools/vitalsd/stats"
)

// ErrInvalidFormat is returned for reports missing url, timestamp or a
// metrics array.
var ErrInvalidFormat = errors.New("Invalid performance data format")

const processingFailed = "Failed to process performance data"

// Recorder receives accepted reports.
type Recorder interface {
	CountReport(device webvitals.DeviceType)
	ObserveMetric(device webvitals.DeviceType, metric webvitals.Metric)
}

// Broadcaster receives alerts for poorly performing pages.
type Broadcaster interface {
	Broadcast(alert livestream.Alert)
}

// Options configure the endpoint. Publisher, Recorder and Alerts may be
// nil.
type Options struct {
	AppEnv    string
	Publisher pub.Publisher
	Recorder  Recorder
	Alerts    Broadcaster
}

type Handler struct {
	opts    Options
	decoder *form.Decoder
}

// Path is the route of the performance endpoint.
const Path = "/api/analytics/performance"

// nowFunc is overridden in tests.
var nowFunc = time.Now

func New(opts Options) *Handler {
	return &Handler{opts: opts, decoder: form.NewDecoder()}
}

// Register adds the endpoint routes to r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(Path, h.Post).Methods("POST")
	r.HandleFunc(Path, h.Get).Methods("GET")
}

// Client describes the browser which sent a report.
type Client struct {
	Browser   string `json:"browser"`
	Version   string `json:"version"`
	OS        string `json:"os"`
	OSVersion string `json:"osVersion"`
	Mobile    bool   `json:"mobile"`
	Tablet    bool   `json:"tablet"`
}

// Data is a received performance report plus server side enrichment.
type Data struct {
	URL            string               `json:"url"`
	Timestamp      int64                `json:"timestamp"`
	Metrics        []webvitals.Metric   `json:"metrics"`
	DeviceType     webvitals.DeviceType `json:"deviceType,omitempty"`
	ConnectionType string               `json:"connectionType,omitempty"`
	UserAgent      string               `json:"userAgent,omitempty"`
	SessionId      string               `json:"sessionId,omitempty"`
	UserId         string               `json:"userId,omitempty"`
	Client         *Client              `json:"client,omitempty"`
}

// Processed is the outcome of processing a report.
type Processed struct {
	Enriched        *Data    `json:"enriched"`
	Alerts          []string `json:"alerts"`
	Recommendations []string `json:"recommendations"`
}

type successResponse struct {
	Success   bool       `json:"success"`
	Processed *Processed `json:"processed"`
	Timestamp int64      `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("could not write response: %s", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, txt string) {
	stats.IncrementFailures()
	writeJSON(w, status, errorResponse{Error: txt})
}

// extractData decodes and validates a posted report. Only a body which
// is not JSON or is null fails outright. Fields of unexpected types are
// coerced rather than rejected.
func extractData(r *http.Request) (*Data, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if sanitized, replaced := util.SanitizeUTF8(body); replaced {
		log.Warn("replaced ill-formed UTF-8 in performance report")
		body = sanitized
	}
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNullReport
	}
	fields, ok := raw.(map[string]interface{})
	if !ok || !truthy(fields["url"]) || !truthy(fields["timestamp"]) {
		return nil, ErrInvalidFormat
	}
	metrics, ok := fields["metrics"].([]interface{})
	if !ok {
		return nil, ErrInvalidFormat
	}
	for i, m := range metrics {
		if m == nil {
			return nil, fmt.Errorf("metric %d is null", i)
		}
	}
	data := &Data{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(mapstructure.TextUnmarshallerHookFunc(), mapstructure.DecodeHookFuncType(coerce)),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           data,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, err
	}
	return data, nil
}

var errNullReport = errors.New("report is null")

// truthy follows the truthiness rules of the browser clients.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

var nameType = reflect.TypeOf(webvitals.Name(0))

// coerce maps values mapstructure cannot convert onto zero values:
// unparseable strings and composites become 0 for numbers, composites
// become "" for strings and scalars become empty structs. Metric names
// which are not strings are unknown names.
func coerce(_ reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t == nameType {
		if _, ok := data.(*webvitals.Name); !ok {
			return webvitals.Name(0), nil
		}
		return data, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		switch x := data.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, nil
			}
			return f, nil
		case map[string]interface{}, []interface{}:
			return 0, nil
		}
	case reflect.String:
		switch data.(type) {
		case map[string]interface{}, []interface{}:
			return "", nil
		case bool, float64:
			return fmt.Sprint(data), nil
		}
	case reflect.Struct:
		switch data.(type) {
		case string, bool, float64, []interface{}:
			return map[string]interface{}{}, nil
		}
	}
	return data, nil
}

// formatMetric renders a metric for alerts and logs.
func formatMetric(m webvitals.Metric) string {
	return fmt.Sprintf("%s (%s)", webvitals.FormatValue(m), m.Rating)
}

// generateSessionId returns "session_<ms>_<9 chars>".
func generateSessionId(now time.Time) string {
	suffix := "000000000"
	if u, err := uuid.NewV4(); err == nil {
		suffix = strings.ReplaceAll(u.String(), "-", "")[:9]
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

func versionString(v semver.Version) string {
	if v.Equals(semver.Version{}) {
		return ""
	}
	return v.String()
}

func parseClient(ua string) *Client {
	if ua == "" {
		return nil
	}
	parsed := useragent.Parse(ua)
	if parsed == nil {
		return nil
	}
	return &Client{
		Browser:   parsed.Name,
		Version:   versionString(parsed.Version),
		OS:        parsed.OS,
		OSVersion: versionString(parsed.OSVersion),
		Mobile:    parsed.Mobile,
		Tablet:    parsed.Tablet,
	}
}

// Process derives alerts and recommendations from poorly rated metrics
// and enriches the report with a session id and client information.
func Process(data *Data, userAgent string, now time.Time) *Processed {
	p := &Processed{Alerts: []string{}, Recommendations: []string{}}
	for _, m := range data.Metrics {
		if !m.Name.Valid() || m.Rating != webvitals.Poor {
			continue
		}
		p.Alerts = append(p.Alerts, fmt.Sprintf("Poor %s performance: %s", m.Name, formatMetric(m)))
		p.Recommendations = append(p.Recommendations, webvitals.Recommendation(m.Name))
	}
	enriched := *data
	enriched.SessionId = generateSessionId(now)
	if enriched.UserAgent == "" {
		enriched.UserAgent = userAgent
	}
	enriched.Client = parseClient(enriched.UserAgent)
	p.Enriched = &enriched
	return p
}

func (h *Handler) publish(data *Data) error {
	if h.opts.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	routingKey := util.RoutingKey(webvitals.RoutingKeyPrefix, webvitals.RoutingKeyMsgType, h.opts.AppEnv)
	h.opts.Publisher.Publish(h.opts.AppEnv, routingKey, payload)
	return nil
}

func (h *Handler) record(data *Data, processed *Processed, now time.Time) {
	if h.opts.Recorder != nil {
		h.opts.Recorder.CountReport(data.DeviceType)
		for _, m := range data.Metrics {
			h.opts.Recorder.ObserveMetric(data.DeviceType, m)
		}
	}
	stats.AddAlerts(len(processed.Alerts))
	if h.opts.Alerts != nil {
		for _, a := range processed.Alerts {
			h.opts.Alerts.Broadcast(livestream.Alert{
				URL:        data.URL,
				Message:    a,
				DeviceType: string(data.DeviceType),
				Timestamp:  now.UnixMilli(),
			})
		}
	}
}

func logReport(data *Data) {
	log.Info("performance report received: url=%s device=%s connection=%s metrics=%d time=%s",
		data.URL, data.DeviceType, data.ConnectionType, len(data.Metrics),
		time.UnixMilli(data.Timestamp).UTC().Format(time.RFC3339))
	for _, m := range data.Metrics {
		log.Info("  %s: %s", m.Name, formatMetric(m))
	}
	if log.Verbose() {
		log.Debug("%s", spew.Sdump(data))
	}
}

// Post accepts a performance report.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	data, err := extractData(r)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) {
			writeErrorResponse(w, http.StatusBadRequest, ErrInvalidFormat.Error())
			return
		}
		log.Error("error processing performance data: %s", err)
		writeErrorResponse(w, http.StatusInternalServerError, processingFailed)
		return
	}
	now := nowFunc()
	processed := Process(data, r.Header.Get("User-Agent"), now)
	if err := h.publish(processed.Enriched); err != nil {
		log.Error("error publishing performance data: %s", err)
		writeErrorResponse(w, http.StatusInternalServerError, processingFailed)
		return
	}
	logReport(data)
	h.record(data, processed, now)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Processed: processed, Timestamp: now.UnixMilli()})
}

// Filters are the query parameters of a summary request.
type Filters struct {
	StartDate  *string `form:"startDate" json:"startDate"`
	EndDate    *string `form:"endDate" json:"endDate"`
	DeviceType *string `form:"deviceType" json:"deviceType"`
	URL        *string `form:"url" json:"url"`
}

type averageScore struct {
	Value  float64          `json:"value"`
	Rating webvitals.Rating `json:"rating"`
}

type summary struct {
	TotalReports      int                          `json:"totalReports"`
	AverageScores     map[string]averageScore      `json:"averageScores"`
	DeviceBreakdown   map[webvitals.DeviceType]int `json:"deviceBreakdown"`
	PerformanceGrades map[webvitals.Grade]int      `json:"performanceGrades"`
}

// Summary is the response to a summary request.
type Summary struct {
	Summary  summary       `json:"summary"`
	Trends   []interface{} `json:"trends"`
	TopPages []interface{} `json:"topPages"`
	Filters  Filters       `json:"filters"`
}

// EmptySummary returns the summary of zero reports.
func EmptySummary(filters Filters) *Summary {
	s := &Summary{
		Summary: summary{
			AverageScores:     make(map[string]averageScore, len(webvitals.Names)),
			DeviceBreakdown:   map[webvitals.DeviceType]int{webvitals.Mobile: 0, webvitals.Desktop: 0, webvitals.Tablet: 0},
			PerformanceGrades: make(map[webvitals.Grade]int, len(webvitals.Grades)),
		},
		Trends:   []interface{}{},
		TopPages: []interface{}{},
		Filters:  filters,
	}
	for _, n := range webvitals.Names {
		s.Summary.AverageScores[n.String()] = averageScore{Value: 0, Rating: webvitals.Good}
	}
	for _, g := range webvitals.Grades {
		s.Summary.PerformanceGrades[g] = 0
	}
	return s
}

// Get returns a performance summary. Reports are not stored, so the
// summary is always empty.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	var filters Filters
	if err := h.decoder.Decode(&filters, r.URL.Query()); err != nil {
		log.Error("error decoding performance filters: %s", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance data")
		return
	}
	writeJSON(w, http.StatusOK, EmptySummary(filters))
}
