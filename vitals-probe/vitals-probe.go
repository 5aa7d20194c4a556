package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/skaes/webvitals-tools/browser"
	"github.com/skaes/webvitals-tools/collector"
	"github.com/skaes/webvitals-tools/config"
	"github.com/skaes/webvitals-tools/formats/webvitals"
	httpclient "github.com/skaes/webvitals-tools/http-client"
	log "github.com/skaes/webvitals-tools/logging"
	"github.com/skaes/webvitals-tools/provider"
	"github.com/skaes/webvitals-tools/util"
)

var opts struct {
	Verbose       bool          `short:"v" long:"verbose" description:"be verbose"`
	Quiet         bool          `short:"q" long:"quiet" description:"be quiet"`
	Config        string        `short:"c" long:"config" env:"VITALS_CONFIG" description:"site configuration file"`
	URLs          []string      `short:"u" long:"url" required:"true" description:"page to measure, may be given more than once"`
	Endpoint      string        `short:"e" long:"endpoint" env:"VITALS_ENDPOINT" description:"base url of the performance endpoint, defaults to the site url"`
	MeasurementID string        `long:"measurement-id" description:"analytics measurement id, overrides the site configuration"`
	APISecret     string        `long:"api-secret" description:"analytics api secret, overrides the site configuration"`
	Width         int           `short:"W" long:"width" default:"1350" description:"viewport width"`
	Height        int           `short:"H" long:"height" default:"940" description:"viewport height"`
	UserAgent     string        `short:"A" long:"user-agent" description:"user agent to send"`
	Headful       bool          `long:"headful" description:"show the browser window"`
	Wait          time.Duration `short:"w" long:"wait" default:"5s" description:"how long to collect metrics per page"`
	Interact      bool          `long:"interact" description:"click into the page to produce input metrics"`
	Dev           bool          `long:"dev" description:"collect metrics outside production"`
	Timeout       time.Duration `short:"t" long:"timeout" default:"10s" description:"timeout for http requests"`
}

const pollInterval = 250 * time.Millisecond

func initialize() {
	args, err := flags.ParseArgs(&opts, os.Args)
	if err != nil {
		e := err.(*flags.Error)
		if e.Type != flags.ErrHelp {
			fmt.Println(err)
		}
		os.Exit(1)
	}
	if len(args) > 1 {
		log.Error("%s: arguments are ignored, please use options instead.", args[0])
		os.Exit(1)
	}
	log.Configure(opts.Verbose, opts.Quiet)
}

type pendingWork interface {
	Wait(timeout time.Duration) bool
}

// newTracker prefers the measurement credentials given on the command
// line over those of the site configuration.
func newTracker(ctx context.Context, site *config.Site) (collector.EventTracker, pendingWork, error) {
	measurementID, apiSecret := opts.MeasurementID, opts.APISecret
	if measurementID == "" {
		measurementID = site.MeasurementID
	}
	if apiSecret == "" {
		apiSecret = site.APISecret
	}
	if measurementID == "" {
		return httpclient.NoopTracker{}, nil, nil
	}
	mc, err := httpclient.NewMeasurementClient(ctx, httpclient.MeasurementURL, measurementID, apiSecret, opts.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return mc, mc, nil
}

// collect polls the page until the wait time has elapsed or ctx is done.
func collect(ctx context.Context, page *browser.Page) error {
	deadline := time.After(opts.Wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	interacted := !opts.Interact
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
		}
		if !interacted {
			interacted = true
			if err := page.Interact(ctx); err != nil {
				log.Warn("could not interact with page: %s", err)
			}
		}
		if err := page.Poll(ctx); err != nil {
			return err
		}
	}
}

func measure(ctx context.Context, site *config.Site, sink *httpclient.Sink, url string) ([]webvitals.Metric, error) {
	page, err := browser.NewPage(ctx, browser.Options{
		Headless:  !opts.Headful,
		UserAgent: opts.UserAgent,
		Width:     opts.Width,
		Height:    opts.Height,
	})
	if err != nil {
		return nil, err
	}
	defer page.Close()

	tracker, pending, err := newTracker(ctx, site)
	if err != nil {
		return nil, err
	}
	p := provider.New(site, provider.Options{
		EnableInDevelopment: opts.Dev,
		Tracker:             tracker,
		Sink:                sink,
		OnMetric: func(m webvitals.Metric) {
			log.Info("%s: %s (%s)", m.Name, webvitals.FormatValue(m), m.Rating)
		},
	})
	if err := page.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if !p.Mount(page) {
		return nil, fmt.Errorf("analytics disabled in %s environment, use --dev", site.Environment)
	}
	if err := collect(ctx, page); err != nil {
		p.TrackError(err, "collect")
		log.Error("collecting metrics for %s failed: %s", url, err)
	}
	// final poll without ctx, so an interrupt still delivers the last entries
	if err := page.Poll(context.Background()); err != nil {
		log.Warn("final poll failed: %s", err)
	}
	var metrics []webvitals.Metric
	if m := p.Monitor(); m != nil {
		metrics = m.Metrics()
	}
	p.Unmount()
	if pending != nil && !pending.Wait(opts.Timeout) {
		log.Warn("timed out sending analytics events")
	}
	return metrics, nil
}

func printResults(url string, metrics []webvitals.Metric) {
	fmt.Printf("%s\n", url)
	summary := webvitals.Summarize(metrics)
	for _, name := range webvitals.Names {
		s, ok := summary[name]
		if !ok {
			continue
		}
		m := webvitals.Metric{Name: name, Value: s.Value}
		fmt.Printf("  %-5s %10s  %s\n", name, webvitals.FormatValue(m), s.Rating)
	}
	score, grade := webvitals.Score(metrics)
	fmt.Printf("  score %d (%s)\n", score, grade)
}

func main() {
	initialize()
	site, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal("could not load configuration: %s", err)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = site.URL
	}
	client, err := httpclient.NewHttpClient(endpoint, opts.Timeout)
	if err != nil {
		log.Fatal("invalid endpoint: %s", err)
	}
	log.Info("posting reports to %s", client.URL())

	done := util.InstallSignalHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()

	sink := httpclient.NewSink(ctx, client)
	failed := false
	for _, url := range opts.URLs {
		if util.Interrupted() {
			break
		}
		metrics, err := measure(ctx, site, sink, url)
		if err != nil {
			log.Error("could not measure %s: %s", url, err)
			failed = true
			continue
		}
		printResults(url, metrics)
	}
	if !sink.Wait(opts.Timeout) {
		log.Warn("timed out sending performance reports")
	}
	if failed {
		os.Exit(1)
	}
}
