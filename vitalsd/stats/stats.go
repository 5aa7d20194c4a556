package stats

import (
	"net/http"
	"sync"
	"time"

	log "github.com/skaes/webvitals-tools/logging"
)

var (
	// Statistics variables protected by a mutex.
	statsMutex        = &sync.Mutex{}
	processedCount    uint64
	processedBytes    uint64
	processedMaxBytes uint64
	httpFailures      uint64
	alertCount        uint64
)

// Counters is a snapshot of the statistics of the last interval.
type Counters struct {
	Processed uint64
	Bytes     uint64
	MaxBytes  uint64
	Failures  uint64
	Alerts    uint64
}

// Swap returns the current counters and resets them.
func Swap() Counters {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	c := Counters{
		Processed: processedCount,
		Bytes:     processedBytes,
		MaxBytes:  processedMaxBytes,
		Failures:  httpFailures,
		Alerts:    alertCount,
	}
	processedCount = 0
	processedBytes = 0
	processedMaxBytes = 0
	httpFailures = 0
	alertCount = 0
	return c
}

// StatsReporter logs the number of processed requests every second
// until done is closed.
func StatsReporter(wg *sync.WaitGroup, done <-chan struct{}, quiet bool) {
	defer wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		c := Swap()
		kb := float64(c.Bytes) / 1024.0
		maxkb := float64(c.MaxBytes) / 1024.0
		var avgkb float64
		if c.Processed > 0 {
			avgkb = kb / float64(c.Processed)
		}
		if !quiet {
			log.Info("processed %d, invalid %d, alerts %d, size: %.2f KB, avg: %.2f KB, max: %.2f", c.Processed, c.Failures, c.Alerts, kb, avgkb, maxkb)
		}
	}
}

// No thanks to https://github.com/golang/go/issues/19644, this is only an
// approximation of the actual number of bytes transferred.
func requestSize(r *http.Request) uint64 {
	size := uint64(len(r.URL.String()))
	for k, values := range r.Header {
		l := len(k)
		for _, v := range values {
			size += uint64(l + len(v) + 4) // k: v\r\n
		}
	}
	if r.ContentLength > 0 {
		size += uint64(r.ContentLength)
	}
	return size
}

func IncrementFailures() {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	httpFailures++
}

func AddAlerts(n int) {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	alertCount += uint64(n)
}

func RecordRequestStats(r *http.Request) {
	size := requestSize(r)
	statsMutex.Lock()
	processedCount++
	processedBytes += size
	if processedMaxBytes < size {
		processedMaxBytes = size
	}
	statsMutex.Unlock()
}
