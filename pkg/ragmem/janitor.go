package ragmem

import (
	"context"
	"time"

	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
)

// DefaultJanitorInterval is used when the janitor is enabled without an
// interval.
const DefaultJanitorInterval = 5 * time.Minute

// janitor periodically removes expired records and their index entries.
// It runs for the lifetime of the client and stops during Close.
type janitor struct {
	longterm *ltm.Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startJanitor(longterm *ltm.Manager, intervalSeconds int) *janitor {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	j := &janitor{
		longterm: longterm,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *janitor) run() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *janitor) sweep() {
	ctx := context.Background()
	removed, err := j.longterm.DeleteExpired(ctx)
	if err != nil {
		log.Warn("Expiry sweep failed", "error", err)
		return
	}
	if removed > 0 {
		log.Debug("Expiry sweep removed records", "count", removed)
	}
}

// stop halts the sweep loop and waits for an in-flight sweep to finish.
func (j *janitor) stop() {
	close(j.stopCh)
	<-j.doneCh
}
