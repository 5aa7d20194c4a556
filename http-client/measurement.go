package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/skaes/webvitals-tools/logging"
	"github.com/skaes/webvitals-tools/util"
)

// MeasurementURL is the Google Analytics 4 Measurement Protocol endpoint.
const MeasurementURL = "https://www.google-analytics.com/mp/collect"

// MeasurementClient forwards analytics events through the Measurement
// Protocol. It implements collector.EventTracker.
type MeasurementClient struct {
	url      string
	client   *http.Client
	clientId string
	ctx      context.Context
	wg       sync.WaitGroup

	mutex          sync.Mutex
	userId         string
	userProperties map[string]interface{}
}

type measurementEvent struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

type userProperty struct {
	Value interface{} `json:"value"`
}

type measurementPayload struct {
	ClientId       string                  `json:"client_id"`
	UserId         string                  `json:"user_id,omitempty"`
	UserProperties map[string]userProperty `json:"user_properties,omitempty"`
	Events         []measurementEvent      `json:"events"`
}

// NewMeasurementClient creates a client for a measurement id and api
// secret. endpoint defaults to MeasurementURL.
func NewMeasurementClient(ctx context.Context, endpoint, measurementId, apiSecret string, timeout time.Duration) (*MeasurementClient, error) {
	if measurementId == "" {
		return nil, fmt.Errorf("measurement id missing")
	}
	if endpoint == "" {
		endpoint = MeasurementURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("measurement_id", measurementId)
	q.Set("api_secret", apiSecret)
	u.RawQuery = q.Encode()
	clientId, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &MeasurementClient{
		url:      u.String(),
		client:   &http.Client{Timeout: timeout},
		clientId: clientId.String(),
		ctx:      context.WithoutCancel(ctx),
	}, nil
}

// URL returns the endpoint events are posted to, including the
// measurement id.
func (mc *MeasurementClient) URL() string {
	return mc.url
}

// ClientId identifies this process towards the analytics backend.
func (mc *MeasurementClient) ClientId() string {
	return mc.clientId
}

func (mc *MeasurementClient) SetUserId(id string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.userId = id
}

// SetUserProperties merges properties into those sent with every event.
func (mc *MeasurementClient) SetUserProperties(properties map[string]interface{}) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	if mc.userProperties == nil {
		mc.userProperties = make(map[string]interface{})
	}
	for k, v := range properties {
		mc.userProperties[k] = v
	}
}

func (mc *MeasurementClient) payload(name string, params map[string]interface{}) measurementPayload {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	p := measurementPayload{
		ClientId: mc.clientId,
		UserId:   mc.userId,
		Events:   []measurementEvent{{Name: name, Params: params}},
	}
	if len(mc.userProperties) > 0 {
		p.UserProperties = make(map[string]userProperty, len(mc.userProperties))
		for k, v := range mc.userProperties {
			p.UserProperties[k] = userProperty{Value: v}
		}
	}
	return p
}

// Collect sends a single event and waits for the response.
func (mc *MeasurementClient) Collect(ctx context.Context, name string, params map[string]interface{}) error {
	return postJSON(ctx, mc.client, mc.url, mc.payload(name, params), "measurement endpoint")
}

// TrackEvent sends an event in the background.
func (mc *MeasurementClient) TrackEvent(name string, params map[string]interface{}) {
	mc.wg.Add(1)
	go func() {
		defer mc.wg.Done()
		if err := mc.Collect(mc.ctx, name, params); err != nil {
			log.Warn("failed to track event %s: %s", name, err)
		}
	}()
}

// Wait blocks until all pending events have been sent or the timeout
// expires. It returns false on timeout.
func (mc *MeasurementClient) Wait(timeout time.Duration) bool {
	return !util.WaitForWaitGroupWithTimeout(&mc.wg, timeout)
}

// NoopTracker discards all events.
type NoopTracker struct{}

func (NoopTracker) TrackEvent(string, map[string]interface{}) {}
