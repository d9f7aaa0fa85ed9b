package main

import (
	"context"
	"math/rand/v2"
	"time"
)

// poller paces the relay. Idle polls wait one interval; failed batches back
// off exponentially up to max. A little jitter keeps relays from polling in
// lockstep.
type poller struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

func newPoller(interval, max time.Duration) *poller {
	return &poller{interval: interval, max: max, current: interval}
}

func (p *poller) reset() {
	p.current = p.interval
}

func (p *poller) next(failed bool) time.Duration {
	if !failed {
		return p.interval
	}
	p.current *= 2
	if p.current > p.max {
		p.current = p.max
	}
	return p.current
}

func (p *poller) wait(ctx context.Context, failed bool) error {
	d := p.next(failed)
	d += time.Duration(rand.Int64N(int64(p.interval)/4 + 1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
