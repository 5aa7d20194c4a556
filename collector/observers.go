package collector

import (
	"github.com/skaes/webvitals-tools/formats/webvitals"
)

// emit turns a value into a record and hands it to the store.
type emit func(name webvitals.Name, value, delta float64)

// The LCP entries of a batch arrive in increasing order, so only the last
// one counts.
func observeLCP(report emit) func([]Entry) {
	return func(entries []Entry) {
		if len(entries) == 0 {
			return
		}
		last := entries[len(entries)-1]
		value := last.RenderTime
		if value == 0 {
			value = last.LoadTime
		}
		report(webvitals.LCP, value, value)
	}
}

// Only the first qualifying input counts, even when the platform
// delivers more.
func observeFID(report emit) func([]Entry) {
	seen := false
	return func(entries []Entry) {
		for _, e := range entries {
			if seen || e.ProcessingStart == 0 {
				continue
			}
			seen = true
			value := e.ProcessingStart - e.StartTime
			report(webvitals.FID, value, value)
		}
	}
}

// Every qualifying interaction is reported as it happens. This is not the
// worst-interaction definition of INP.
func observeINP(report emit) func([]Entry) {
	return func(entries []Entry) {
		for _, e := range entries {
			if e.ProcessingStart == 0 || e.ProcessingEnd == 0 {
				continue
			}
			value := e.ProcessingEnd - e.StartTime
			report(webvitals.INP, value, value)
		}
	}
}

// observeCLS accumulates shifts without recent input into a session sum
// and reports whenever the sum reaches a new maximum.
func observeCLS(report emit) func([]Entry) {
	var clsValue, sessionValue float64
	return func(entries []Entry) {
		for _, e := range entries {
			if e.HadRecentInput || e.Value == 0 {
				continue
			}
			sessionValue += e.Value
			if sessionValue > clsValue {
				clsValue = sessionValue
				report(webvitals.CLS, clsValue, e.Value)
			}
		}
	}
}

func observeFCP(report emit) func([]Entry) {
	return func(entries []Entry) {
		for _, e := range entries {
			if e.Name == "first-contentful-paint" {
				report(webvitals.FCP, e.StartTime, e.StartTime)
			}
		}
	}
}

func observeTTFB(report emit) func([]Entry) {
	return func(entries []Entry) {
		for _, e := range entries {
			if e.ResponseStart == 0 || e.RequestStart == 0 {
				continue
			}
			value := e.ResponseStart - e.RequestStart
			report(webvitals.TTFB, value, value)
		}
	}
}

var observers = map[EntryType]func(emit) func([]Entry){
	LargestContentfulPaint: observeLCP,
	FirstInput:             observeFID,
	Event:                  observeINP,
	LayoutShift:            observeCLS,
	Paint:                  observeFCP,
	Navigation:             observeTTFB,
}
