package policy

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/orka/internal/domain"
)

// FakePolicy is a scripted Policy for tests, grounded on the same
// fake-over-mock style as mux.FakeDriver (spec.md §4.8 calls for this).
type FakePolicy struct {
	mu    sync.Mutex
	queue []fakeResult
	calls int
}

type fakeResult struct {
	decision domain.Decision
	err      error
}

// NewFakePolicy returns a FakePolicy with no scripted responses; callers
// queue results with Enqueue before driving a cycle.
func NewFakePolicy() *FakePolicy {
	return &FakePolicy{}
}

// Enqueue appends a scripted decision to be returned on the next Decide call.
func (f *FakePolicy) Enqueue(d domain.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResult{decision: d})
}

// EnqueueError appends a scripted error to be returned on the next Decide
// call, simulating a malformed policy reply (spec.md §8 S6).
func (f *FakePolicy) EnqueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResult{err: err})
}

// Decide pops the next scripted result. If the queue is empty it returns
// WaitDecision so tests that under-script don't hang forever.
func (f *FakePolicy) Decide(_ context.Context, _ Request) (domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if len(f.queue) == 0 {
		return WaitDecision(), nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	if next.err != nil {
		return domain.Decision{}, next.err
	}
	if next.decision.Timestamp.IsZero() {
		next.decision.Timestamp = time.Now()
	}
	return next.decision, nil
}

// Calls returns how many times Decide has been invoked.
func (f *FakePolicy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Policy = (*FakePolicy)(nil)
