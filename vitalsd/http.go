package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/tylerb/graceful.v1"

	log "github.com/skaes/webvitals-tools/logging"
	"github.com/skaes/webvitals-tools/vitalsd/livestream"
	"github.com/skaes/webvitals-tools/vitalsd/metrics"
	"github.com/skaes/webvitals-tools/vitalsd/performance"
	"github.com/skaes/webvitals-tools/vitalsd/stats"
)

func serveAlive(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	w.Header().Set("Cache-Control", "private")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(200)
	io.WriteString(w, "ALIVE\n")
}

func setupRouter(h *performance.Handler, hub *livestream.Hub, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	r.HandleFunc(performance.Path+"/live", hub.ServeWs)
	r.Handle("/metrics", m.RequestHandler).Methods("GET")
	r.HandleFunc("/alive.txt", serveAlive)
	return r
}

// runWebServer serves until an interrupt arrives.
func runWebServer(handler http.Handler) {
	spec := opts.BindIP + ":" + strconv.Itoa(opts.InputPort)
	log.Info("starting http server on %s", spec)
	srv := &graceful.Server{
		Timeout: 10 * time.Second,
		Server: &http.Server{
			Addr:    spec,
			Handler: handler,
		},
	}
	if opts.KeyFile != "" && opts.CertFile != "" {
		err := srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			log.Error("Cannot listen and serve TLS: %s", err)
		}
	} else if opts.KeyFile != "" {
		log.Error("cert-file given but no key-file!")
	} else if opts.CertFile != "" {
		log.Error("key-file given but no cert-file!")
	} else {
		err := srv.ListenAndServe()
		if err != nil {
			log.Error("Cannot listen and serve: %s", err)
		}
	}
}
