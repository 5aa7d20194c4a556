package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skaes/webvitals-tools/config"
	httpclient "github.com/skaes/webvitals-tools/http-client"
)

func TestNewTracker(t *testing.T) {
	savedID, savedSecret := opts.MeasurementID, opts.APISecret
	defer func() { opts.MeasurementID, opts.APISecret = savedID, savedSecret }()

	opts.MeasurementID, opts.APISecret = "", ""
	tracker, pending, err := newTracker(context.Background(), &config.Site{})
	require.NoError(t, err)
	assert.Equal(t, httpclient.NoopTracker{}, tracker)
	assert.Nil(t, pending)

	opts.MeasurementID = "G-FLAG"
	tracker, pending, err = newTracker(context.Background(), &config.Site{})
	require.NoError(t, err)
	require.IsType(t, &httpclient.MeasurementClient{}, tracker)
	assert.Contains(t, tracker.(*httpclient.MeasurementClient).URL(), "measurement_id=G-FLAG")
	assert.NotNil(t, pending)
	assert.True(t, pending.Wait(time.Second))
}

func TestNewTrackerFallsBackToSiteConfiguration(t *testing.T) {
	savedID, savedSecret := opts.MeasurementID, opts.APISecret
	defer func() { opts.MeasurementID, opts.APISecret = savedID, savedSecret }()
	site := &config.Site{MeasurementID: "G-SITE", APISecret: "site-secret"}

	opts.MeasurementID, opts.APISecret = "", ""
	tracker, _, err := newTracker(context.Background(), site)
	require.NoError(t, err)
	require.IsType(t, &httpclient.MeasurementClient{}, tracker)
	u := tracker.(*httpclient.MeasurementClient).URL()
	assert.Contains(t, u, "measurement_id=G-SITE")
	assert.Contains(t, u, "api_secret=site-secret")

	opts.MeasurementID, opts.APISecret = "G-FLAG", "flag-secret"
	tracker, _, err = newTracker(context.Background(), site)
	require.NoError(t, err)
	u = tracker.(*httpclient.MeasurementClient).URL()
	assert.Contains(t, u, "measurement_id=G-FLAG")
	assert.Contains(t, u, "api_secret=flag-secret")
}
