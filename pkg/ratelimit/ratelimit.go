package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out calls to an upstream that punishes bursts. A positive
// fixed interval always wins; otherwise each pause is drawn uniformly from
// [min, max]. It is safe for concurrent use by multiple goroutines.
type Pacer struct {
	fixed time.Duration
	min   time.Duration
	max   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer creates a pacer. Swapped bounds are reordered and negative
// bounds clamp to zero. A pacer with every interval at zero never blocks.
func NewPacer(fixed, min, max time.Duration) *Pacer {
	if max < min {
		min, max = max, min
	}
	if min < 0 {
		min = 0
	}
	if max < 0 {
		max = 0
	}
	return &Pacer{
		fixed: fixed,
		min:   min,
		max:   max,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the length of the next pause.
func (p *Pacer) Next() time.Duration {
	if p == nil {
		return 0
	}
	if p.fixed > 0 {
		return p.fixed
	}
	if p.max <= 0 {
		return 0
	}
	if p.max == p.min {
		return p.min
	}

	p.mu.Lock()
	span := p.rng.Int63n(int64(p.max-p.min) + 1)
	p.mu.Unlock()
	return p.min + time.Duration(span)
}

// Wait pauses for Next() or until the context is canceled.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Next()
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
