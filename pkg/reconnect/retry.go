package reconnect

import (
	"sync"
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/pkg/errors"
)

// Retrier arms one attempt at a time on a fixed interval and gives up after
// a bounded number of attempts. A max of 0 never gives up.
type Retrier struct {
	mu       sync.Mutex
	interval time.Duration
	max      int
	attempts int
	timer    *time.Timer
	gen      int
	logger   util.Logger
}

func NewRetrier(interval time.Duration, max int) *Retrier {
	return &Retrier{
		interval: interval,
		max:      max,
		logger:   util.ComponentLogger("retrier"),
	}
}

// Schedule runs fn after the interval unless an attempt is already pending.
// It returns ErrMaxReconnectAttemptsReached once the budget is spent.
func (r *Retrier) Schedule(fn func(attempt int)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		return nil
	}
	if r.max > 0 && r.attempts >= r.max {
		return errors.Wrapf(ErrMaxReconnectAttemptsReached, "%d attempts", r.attempts)
	}
	r.attempts++
	n, gen := r.attempts, r.gen
	if n > 1 {
		r.logger.Infof("attempt %d/%d in %s", n, r.max, r.interval)
	}
	r.timer = time.AfterFunc(r.interval, func() {
		r.mu.Lock()
		if gen != r.gen {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		fn(n)
	})
	return nil
}

// Stop cancels the pending attempt and keeps the count
func (r *Retrier) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop()
}

func (r *Retrier) stop() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Reset cancels the pending attempt and restores the full budget
func (r *Retrier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop()
	r.attempts = 0
}

func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Pending reports whether an attempt is armed
func (r *Retrier) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Retry calls fn until it succeeds or max attempts fail, waiting the
// interval between attempts. Panics inside fn count as failures.
func (r *Retrier) Retry(fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := util.CatchErrs(fn)
		if err == nil {
			return nil
		}
		if r.max > 0 && attempt >= r.max {
			return errors.Wrap(err, "exceeded attempts")
		}
		r.logger.Warnf("attempt %d: %s, retrying", attempt, err)
		time.Sleep(r.interval)
	}
}
