package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/skaes/webvitals-tools/formats/webvitals"
	log "github.com/skaes/webvitals-tools/logging"
	"github.com/skaes/webvitals-tools/util"
)

// PerformancePath is where performance reports are posted to.
const PerformancePath = "/api/analytics/performance"

// HttpClient posts performance reports to an ingest endpoint.
type HttpClient struct {
	url    string
	client *http.Client
}

// NewHttpClient creates a new HttpClient instance. A zero timeout means
// requests never time out.
func NewHttpClient(uri string, timeout time.Duration) (*HttpClient, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("not an absolute url: %q", uri)
	}
	u.Path = path.Join(u.Path, PerformancePath)
	hc := HttpClient{url: u.String()}
	hc.client = &http.Client{Timeout: timeout}
	return &hc, nil
}

// URL returns the endpoint reports are posted to.
func (hc *HttpClient) URL() string {
	return hc.url
}

// SendReport posts a report to the endpoint. Any 2xx response counts as
// success.
func (hc *HttpClient) SendReport(ctx context.Context, report *webvitals.Report) error {
	return postJSON(ctx, hc.client, hc.url, report, "performance endpoint")
}

// postJSON is the single POST path of this package. Any 2xx response
// counts as success.
func postJSON(ctx context.Context, client *http.Client, uri string, v interface{}, endpoint string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	buf, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("unexpected response from %s: status: %d, msg: %s", endpoint, response.StatusCode, string(buf))
}

// Sink sends reports in the background. Failures are logged and
// dropped. Reports are neither retried nor queued.
type Sink struct {
	client *HttpClient
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewSink creates a sink posting through client. Requests outlive the
// cancellation of ctx.
func NewSink(ctx context.Context, client *HttpClient) *Sink {
	return &Sink{client: client, ctx: context.WithoutCancel(ctx)}
}

// Send implements collector.ReportSink.
func (s *Sink) Send(report *webvitals.Report) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.client.SendReport(s.ctx, report); err != nil {
			log.Warn("failed to send performance report for %s: %s", report.URL, err)
			return
		}
		log.Debug("sent performance report for %s (%d metrics)", report.URL, len(report.Metrics))
	}()
}

// Wait blocks until all pending reports have been sent or the timeout
// expires. It returns false on timeout.
func (s *Sink) Wait(timeout time.Duration) bool {
	return !util.WaitForWaitGroupWithTimeout(&s.wg, timeout)
}
