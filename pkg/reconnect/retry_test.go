package reconnect

import (
	"sync/atomic"
	"testing"
	"time"

	. "github.com/Krajiyah/glasslink/internal"
	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestRetrierBounded(t *testing.T) {
	r := NewRetrier(5*time.Millisecond, 2)
	var calls int32
	fn := func(int) { atomic.AddInt32(&calls, 1) }

	assert.NilError(t, r.Schedule(fn))
	// one pending attempt at a time
	assert.NilError(t, r.Schedule(fn))
	assert.Equal(t, r.Attempts(), 1)
	WaitUntil(t, "first attempt", func() bool { return atomic.LoadInt32(&calls) == 1 })

	assert.NilError(t, r.Schedule(fn))
	WaitUntil(t, "second attempt", func() bool { return atomic.LoadInt32(&calls) == 2 })

	err := r.Schedule(fn)
	assert.Equal(t, errors.Cause(err), ErrMaxReconnectAttemptsReached)
	assert.Assert(t, !r.Pending())

	r.Reset()
	assert.Equal(t, r.Attempts(), 0)
	assert.NilError(t, r.Schedule(fn))
}

func TestRetrierUnbounded(t *testing.T) {
	r := NewRetrier(time.Millisecond, 0)
	done := make(chan int, 1)
	for i := 0; i < 20; i++ {
		assert.NilError(t, r.Schedule(func(n int) { done <- n }))
		<-done
	}
	assert.Equal(t, r.Attempts(), 20)
}

func TestRetrierStop(t *testing.T) {
	r := NewRetrier(30*time.Millisecond, 3)
	var calls int32
	assert.NilError(t, r.Schedule(func(int) { atomic.AddInt32(&calls, 1) }))
	assert.Assert(t, r.Pending())
	r.Stop()
	assert.Assert(t, !r.Pending())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, atomic.LoadInt32(&calls), int32(0))
	assert.Equal(t, r.Attempts(), 1)
}

func TestRetry(t *testing.T) {
	r := NewRetrier(time.Millisecond, 3)
	n := 0
	err := r.Retry(func() error {
		n++
		if n < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, n, 3)
}

func TestRetryExceeded(t *testing.T) {
	r := NewRetrier(time.Millisecond, 2)
	n := 0
	err := r.Retry(func() error {
		n++
		panic("adapter gone")
	})
	assert.ErrorContains(t, err, "exceeded attempts")
	assert.ErrorContains(t, err, "adapter gone")
	assert.Equal(t, n, 2)
}
