package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalWaitReturnsAfterNotify(t *testing.T) {
	sig := newSignal()
	gen := sig.Generation()

	done := make(chan struct{})
	go func() {
		sig.Wait(gen)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Notify")
	case <-time.After(50 * time.Millisecond):
	}

	sig.Notify()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Notify")
	}
}

func TestSignalNotifyBeforeWaitIsNotLost(t *testing.T) {
	sig := newSignal()
	gen := sig.Generation()
	sig.Notify()

	done := make(chan struct{})
	go func() {
		sig.Wait(gen)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait missed an earlier Notify")
	}
}

func TestSchedulerCheck(t *testing.T) {
	s := NewScheduler()
	redaction := s.Signal(RedactionProcessor)
	callback := s.Signal(CallbackProcessor)

	assert.Same(t, redaction, s.Signal(RedactionProcessor))

	s.Check(CallbackProcessor)
	assert.Equal(t, uint64(0), redaction.Generation())
	assert.Equal(t, uint64(1), callback.Generation())

	s.CheckAll()
	assert.Equal(t, uint64(1), redaction.Generation())
	assert.Equal(t, uint64(2), callback.Generation())
}

func TestSchedulersAreIndependent(t *testing.T) {
	a, b := NewScheduler(), NewScheduler()
	a.Check(RedactionProcessor)
	assert.Equal(t, uint64(0), b.Signal(RedactionProcessor).Generation())
}
