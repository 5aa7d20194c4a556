package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

type capture struct {
	mutex   sync.Mutex
	path    string
	query   string
	ctype   string
	bodies  [][]byte
	status  int
	replies int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mutex.Lock()
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.ctype = r.Header.Get("Content-Type")
	c.bodies = append(c.bodies, body)
	c.replies++
	status := c.status
	c.mutex.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write([]byte(`{"success":true}`))
}

func testReport() *webvitals.Report {
	return &webvitals.Report{
		URL:            "https://example.com/",
		Timestamp:      1700000000000,
		Metrics:        []webvitals.Metric{webvitals.NewMetric(webvitals.LCP, 1200, 1200, "1-a", webvitals.Navigate)},
		DeviceType:     webvitals.Desktop,
		ConnectionType: "4g",
		UserAgent:      "test",
	}
}

func TestSendingReport(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	defer server.Close()

	hc, err := NewHttpClient(server.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, server.URL+PerformancePath, hc.URL())
	require.NoError(t, hc.SendReport(context.Background(), testReport()))

	assert.Equal(t, PerformancePath, c.path)
	assert.Equal(t, "application/json", c.ctype)
	require.Len(t, c.bodies, 1)
	var decoded webvitals.Report
	require.NoError(t, json.Unmarshal(c.bodies[0], &decoded))
	assert.Equal(t, *testReport(), decoded)
}

func TestSendingReportFailsOnErrorStatus(t *testing.T) {
	c := &capture{status: http.StatusBadRequest}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	defer server.Close()

	hc, err := NewHttpClient(server.URL, time.Second)
	require.NoError(t, err)
	err = hc.SendReport(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 400")
}

func TestNewHttpClientRejectsRelativeURLs(t *testing.T) {
	_, err := NewHttpClient("/api", 0)
	assert.Error(t, err)
}

func TestSinkDropsFailedReports(t *testing.T) {
	c := &capture{status: http.StatusInternalServerError}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	defer server.Close()

	hc, err := NewHttpClient(server.URL, time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	sink := NewSink(ctx, hc)
	cancel()

	sink.Send(testReport())
	require.True(t, sink.Wait(time.Second))
	c.mutex.Lock()
	c.status = http.StatusOK
	c.mutex.Unlock()
	sink.Send(testReport())
	require.True(t, sink.Wait(time.Second))

	c.mutex.Lock()
	defer c.mutex.Unlock()
	assert.Equal(t, 2, c.replies)
}

func TestSinkSurvivesUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	hc, err := NewHttpClient(url, 100*time.Millisecond)
	require.NoError(t, err)
	sink := NewSink(context.Background(), hc)
	assert.NotPanics(t, func() { sink.Send(testReport()) })
	assert.True(t, sink.Wait(time.Second))
}

func TestMeasurementClient(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	defer server.Close()

	mc, err := NewMeasurementClient(context.Background(), server.URL+"/mp/collect", "G-TEST", "secret", time.Second)
	require.NoError(t, err)
	mc.SetUserId("user-1")
	mc.SetUserProperties(map[string]interface{}{"plan": "free"})
	mc.TrackEvent("core_web_vital", map[string]interface{}{"metric_name": "LCP", "metric_value": 1200})
	require.True(t, mc.Wait(time.Second))

	c.mutex.Lock()
	defer c.mutex.Unlock()
	assert.Equal(t, "/mp/collect", c.path)
	assert.Contains(t, c.query, "measurement_id=G-TEST")
	assert.Contains(t, c.query, "api_secret=secret")
	require.Len(t, c.bodies, 1)
	expected := `{"client_id":"` + mc.ClientId() + `","user_id":"user-1","user_properties":{"plan":{"value":"free"}},` +
		`"events":[{"name":"core_web_vital","params":{"metric_name":"LCP","metric_value":1200}}]}`
	assert.JSONEq(t, expected, string(c.bodies[0]))
}

func TestMeasurementClientRequiresId(t *testing.T) {
	_, err := NewMeasurementClient(context.Background(), "", "", "secret", 0)
	assert.Error(t, err)
}

func TestNoopTracker(t *testing.T) {
	assert.NotPanics(t, func() { NoopTracker{}.TrackEvent("x", nil) })
}

func TestCollectFailsOnErrorStatus(t *testing.T) {
	c := &capture{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	defer server.Close()

	mc, err := NewMeasurementClient(context.Background(), server.URL, "G-TEST", "secret", time.Second)
	require.NoError(t, err)
	assert.Contains(t, mc.URL(), "measurement_id=G-TEST")
	err = mc.Collect(context.Background(), "page_view", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "measurement endpoint")
	assert.Contains(t, err.Error(), "status: 503")
}
