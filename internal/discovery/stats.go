package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/hwreg/internal/blockdev"
)

// Stats counts what one scan did.
type Stats struct {
	Visited      int `json:"visited"`
	Committed    int `json:"committed"`
	Rediscovered int `json:"rediscovered"`
	Skipped      int `json:"skipped"`
	Discarded    int `json:"discarded"`
	Failed       int `json:"failed"`
	Removed      int `json:"removed"`
}

type statsCollector struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCollector) record(r blockdev.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.Visited++
	if err != nil {
		c.s.Failed++
		return
	}
	switch r.Outcome {
	case blockdev.OutcomeCommitted:
		if r.Rediscovered {
			c.s.Rediscovered++
		} else {
			c.s.Committed++
		}
	case blockdev.OutcomeDiscarded:
		c.s.Discarded++
	default:
		c.s.Skipped++
	}
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Sinks fans one scan report out to several sinks.
type Sinks []StatsSink

// RecordScan calls every sink and joins their errors.
func (s Sinks) RecordScan(ctx context.Context, stats Stats, elapsed time.Duration) error {
	var errs []error
	for _, sink := range s {
		if err := sink.RecordScan(ctx, stats, elapsed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
