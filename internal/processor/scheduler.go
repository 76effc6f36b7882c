package processor

import (
	"sync"
)

// Processor names used with Scheduler.Check.
const (
	RedactionProcessor = "redaction"
	CallbackProcessor  = "callback"
)

// Signal wakes processors waiting for work. Every Notify advances a
// generation counter, so a waiter that captured the generation before
// looking for work cannot miss a notification sent while it was looking.
type Signal struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
}

func newSignal() *Signal {
	s := &Signal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Generation returns the current generation.
func (s *Signal) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Notify wakes every waiter.
func (s *Signal) Notify() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Wait blocks until the generation moves past gen.
func (s *Signal) Wait(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.gen == gen {
		s.cond.Wait()
	}
}

// Scheduler is the process-wide registry of processor signals. It is built
// once at startup and shared by every processor and by the components that
// make work ready for them.
type Scheduler struct {
	mu      sync.Mutex
	signals map[string]*Signal
}

func NewScheduler() *Scheduler {
	return &Scheduler{signals: make(map[string]*Signal)}
}

// Signal returns the signal for name, creating it on first use.
func (s *Scheduler) Signal(name string) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[name]
	if !ok {
		sig = newSignal()
		s.signals[name] = sig
	}
	return sig
}

// Check wakes every processor registered under name.
func (s *Scheduler) Check(name string) {
	s.Signal(name).Notify()
}

// CheckAll wakes every processor.
func (s *Scheduler) CheckAll() {
	s.mu.Lock()
	signals := make([]*Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		signals = append(signals, sig)
	}
	s.mu.Unlock()

	for _, sig := range signals {
		sig.Notify()
	}
}
