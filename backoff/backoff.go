// Package backoff provides poll-interval pacing for worker loops.
//
// Workers poll the store for approved runs. When a poll comes back
// empty, the interval grows so an idle cluster does not hammer the
// database; any successful claim resets it. Jitter desynchronizes
// workers that started at the same moment.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Idle paces an empty-poll loop. Each empty poll grows the wait by
// Factor until Max; Reset snaps back to Initial after productive work.
//
// An Idle is owned by a single polling goroutine and is not safe for
// concurrent use.
type Idle struct {
	// Initial is the wait after the first empty poll.
	Initial time.Duration

	// Max caps the wait between polls.
	Max time.Duration

	// Factor is the growth multiplier per empty poll. Values <= 1
	// are treated as 2.
	Factor float64

	cur time.Duration
}

// NewIdle creates an idle pacer with the default doubling factor.
func NewIdle(initial, maxWait time.Duration) *Idle {
	return &Idle{Initial: initial, Max: maxWait, Factor: 2}
}

// Next returns the jittered wait before the next poll and advances the
// underlying interval. The returned value is drawn uniformly from
// [interval/2, interval] so simultaneous workers spread out.
func (i *Idle) Next() time.Duration {
	if i.cur <= 0 {
		i.cur = i.Initial
	}
	d := i.cur

	factor := i.Factor
	if factor <= 1 {
		factor = 2
	}
	next := time.Duration(float64(i.cur) * factor)
	if i.Max > 0 && next > i.Max {
		next = i.Max
	}
	i.cur = next

	return jitter(d)
}

// Reset returns the pacer to its initial interval. Call after a poll
// that yielded work.
func (i *Idle) Reset() {
	i.cur = 0
}

// Current reports the un-jittered interval the next call to Next will
// draw from. Useful for logging and tests.
func (i *Idle) Current() time.Duration {
	if i.cur <= 0 {
		return i.Initial
	}
	return i.cur
}

// jitter draws uniformly from [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1)) //nolint:gosec // pacing jitter does not need crypto rand
}

// DefaultIdle returns the pacer used by the engine's workers:
// 250ms initial, 5s max, doubling.
func DefaultIdle() *Idle {
	return NewIdle(250*time.Millisecond, 5*time.Second)
}
