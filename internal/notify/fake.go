package notify

import (
	"context"
	"sync"
)

// FakeProvider records every message sent to it, standing in for a real
// outbound channel in tests.
type FakeProvider struct {
	mu       sync.Mutex
	messages []Message
}

// NewFakeProvider returns an empty FakeProvider.
func NewFakeProvider() *FakeProvider { return &FakeProvider{} }

func (p *FakeProvider) Available() bool                       { return true }
func (p *FakeProvider) Validate(map[string]interface{}) error { return nil }

func (p *FakeProvider) Send(_ context.Context, message Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

// Messages returns every message sent so far, in order.
func (p *FakeProvider) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

var _ Provider = (*FakeProvider)(nil)
