package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/skaes/webvitals-tools/config"
	log "github.com/skaes/webvitals-tools/logging"
	pub "github.com/skaes/webvitals-tools/publisher"
	"github.com/skaes/webvitals-tools/util"
	"github.com/skaes/webvitals-tools/vitalsd/livestream"
	"github.com/skaes/webvitals-tools/vitalsd/metrics"
	"github.com/skaes/webvitals-tools/vitalsd/performance"
	"github.com/skaes/webvitals-tools/vitalsd/stats"
)

var opts struct {
	Verbose     bool   `short:"v" long:"verbose" description:"be verbose"`
	Quiet       bool   `short:"q" long:"quiet" description:"be quiet"`
	Config      string `long:"config" env:"VITALS_CONFIG" description:"site configuration file"`
	InputPort   int    `short:"p" long:"input-port" default:"9705" description:"port number of http input socket"`
	BindIP      string `short:"b" long:"bind-ip" env:"VITALS_BIND_IP" description:"ip address to bind the http socket to"`
	CertFile    string `short:"c" long:"cert-file" env:"VITALS_CERT_FILE" description:"certificate file to use"`
	KeyFile     string `short:"k" long:"key-file" env:"VITALS_KEY_FILE" description:"key file to use"`
	AppEnv      string `short:"a" long:"app-env" description:"stream to publish to, defaults to site-<environment>"`
	DeviceId    uint32 `short:"d" long:"device-id" description:"device id"`
	OutputPort  uint   `short:"P" long:"output-port" default:"9706" description:"port number of zeromq output socket, 0 disables publishing"`
	SendHwm     int    `short:"S" long:"snd-hwm" env:"VITALS_SND_HWM" default:"100000" description:"high water mark for zeromq output socket"`
	Compression string `short:"x" long:"compress" description:"compression method to use"`
}

var compression byte

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
	compression, err = util.ParseCompressionMethodName(opts.Compression)
	if err != nil {
		log.Error("%s: unsupported compression method: %s.", args[0], opts.Compression)
		os.Exit(1)
	}
}

func main() {
	initialize()
	log.Info("%s starting", os.Args[0])
	site, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal("could not load configuration: %s", err)
	}
	appEnv := opts.AppEnv
	if appEnv == "" {
		appEnv = "site-" + site.Environment
	}
	log.Info("site: %s, stream: %s", site.URL, appEnv)

	done := util.InstallSignalHandler()
	var wg sync.WaitGroup

	wg.Add(1)
	go stats.StatsReporter(&wg, done, opts.Quiet)

	hub := livestream.NewHub()
	wg.Add(1)
	go hub.Run(&wg, done)

	handlerOpts := performance.Options{AppEnv: appEnv, Alerts: hub}
	m := metrics.New()
	handlerOpts.Recorder = m

	if opts.OutputPort != 0 {
		outputSpec := fmt.Sprintf("tcp://*:%d", opts.OutputPort)
		log.Info("device-id: %d", opts.DeviceId)
		log.Info("output-spec: %s", outputSpec)
		publisher, err := pub.New(&wg, done, pub.Opts{
			Compression: compression,
			DeviceId:    opts.DeviceId,
			OutputPort:  opts.OutputPort,
			OutputSpec:  outputSpec,
			SendHwm:     opts.SendHwm,
		})
		if err != nil {
			log.Fatal("could not start publisher: %s", err)
		}
		handlerOpts.Publisher = publisher
	}

	// Run web server in the foreground. It has its own signal handler.
	runWebServer(setupRouter(performance.New(handlerOpts), hub, m))

	// Wait for publisher, hub and stats reporter to finish.
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Fatal("web server terminated unexpectedly")
	}
	if util.WaitForWaitGroupWithTimeout(&wg, 5*time.Second) {
		if !opts.Quiet {
			log.Info("shut down timed out")
		}
	} else {
		if !opts.Quiet {
			log.Info("shut down performed cleanly")
		}
	}
}
