package util

import (
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestMailboxRunsInOrder(t *testing.T) {
	m := NewMailbox()
	quit := make(chan struct{})
	defer close(quit)
	go m.Run(quit)

	got := make(chan int, 10)
	for i := 0; i < 5; i++ {
		i := i
		m.Post(func() { got <- i })
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, <-got, i)
	}
}

func TestMailboxPostFromInside(t *testing.T) {
	m := NewMailbox()
	quit := make(chan struct{})
	defer close(quit)
	go m.Run(quit)

	done := make(chan struct{})
	m.Post(func() {
		m.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}
