package eventbus

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/kandev/orka/internal/common/logger"
	"go.uber.org/zap"
)

// MemoryBus implements Bus with in-process fan-out. It is the default
// when no NATS URL is configured, matching the teacher's bus.MemoryEventBus.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySub
	queues        map[string]*queueGroup
	logger        *logger.Logger
	closed        bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	pattern *regexp.Regexp
	handler Handler
	queue   string

	mu     sync.Mutex
	active bool
}

type queueGroup struct {
	mu          sync.Mutex
	subscribers []*memorySub
	next        int
}

// NewMemoryBus returns a ready-to-use in-process Bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySub),
		queues:        make(map[string]*queueGroup),
		logger:        log.WithFields(zap.String("component", "eventbus")),
	}
}

// subjectPattern turns a NATS-style subject ("orka.agent.*") into a regexp,
// since MemoryBus has no broker to do wildcard matching for it.
func subjectPattern(subject string) *regexp.Regexp {
	if !strings.ContainsAny(subject, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(subject)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `\>`, `.+`)
	return regexp.MustCompile("^" + escaped + "$")
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	delivered := make(map[*queueGroup]bool)
	for subj, subs := range b.subscriptions {
		if subj != subject {
			if p := subjectPattern(subj); p == nil || !p.MatchString(subject) {
				continue
			}
		}
		for _, s := range subs {
			if !s.IsValid() {
				continue
			}
			if s.queue != "" {
				qg := b.queues[s.queue+":"+subj]
				if qg == nil || delivered[qg] {
					continue
				}
				delivered[qg] = true
				qg.mu.Lock()
				if len(qg.subscribers) > 0 {
					target := qg.subscribers[qg.next%len(qg.subscribers)]
					qg.next++
					go b.deliver(ctx, target, event)
				}
				qg.mu.Unlock()
				continue
			}
			go b.deliver(ctx, s, event)
		}
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, s *memorySub, event *Event) {
	if err := s.handler(ctx, event); err != nil {
		b.logger.Warn("event handler failed", zap.String("subject", s.subject), zap.String("eventType", event.Type), zap.Error(err))
	}
}

func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

func (b *MemoryBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryBus) subscribe(subject, queue string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &memorySub{bus: b, subject: subject, pattern: subjectPattern(subject), handler: handler, queue: queue, active: true}
	b.subscriptions[subject] = append(b.subscriptions[subject], s)
	if queue != "" {
		key := queue + ":" + subject
		qg, ok := b.queues[key]
		if !ok {
			qg = &queueGroup{}
			b.queues[key] = qg
		}
		qg.mu.Lock()
		qg.subscribers = append(qg.subscribers, s)
		qg.mu.Unlock()
	}
	return s, nil
}

func (s *memorySub) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, o := range subs {
		if o == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if s.queue != "" {
		key := s.queue + ":" + s.subject
		if qg, ok := s.bus.queues[key]; ok {
			qg.mu.Lock()
			for i, o := range qg.subscribers {
				if o == s {
					qg.subscribers = append(qg.subscribers[:i], qg.subscribers[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}
	return nil
}

func (s *memorySub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = make(map[string][]*memorySub)
	b.queues = make(map[string]*queueGroup)
}

func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
