package internal

import (
	"testing"
	"time"

	"gotest.tools/poll"
)

// WaitUntil polls cond until it holds or two seconds pass
func WaitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if cond() {
			return poll.Success()
		}
		return poll.Continue("waiting for %s", what)
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(5*time.Millisecond))
}
