package bus

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/TayTech/claude-remote/internal/common/logger"
)

var errBusClosed = errors.New("event bus is closed")

// MemoryEventBus delivers events to in-process subscribers, each
// delivery on its own goroutine. It is used when no NATS URL is set.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger *logger.Logger
}

type memorySubscription struct {
	bus     *MemoryEventBus
	pattern []string
	handler EventHandler

	mu     sync.Mutex
	active bool
}

func (s *memorySubscription) Unsubscribe() error {
	s.deactivate()
	s.bus.mu.Lock()
	s.bus.subs = slices.DeleteFunc(s.bus.subs, func(o *memorySubscription) bool { return o == s })
	s.bus.mu.Unlock()
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySubscription) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log.WithFields(zap.String("component", "memory_bus"))}
}

func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}

	tokens := strings.Split(subject, ".")
	for _, sub := range b.subs {
		if !sub.IsValid() || !subjectMatches(sub.pattern, tokens) {
			continue
		}
		go func() {
			if err := sub.handler(ctx, event); err != nil {
				b.logger.Warn("event handler failed", zap.String("subject", subject), zap.Error(err))
			}
		}()
	}
	return nil
}

func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	sub := &memorySubscription{
		bus:     b,
		pattern: strings.Split(subject, "."),
		handler: handler,
		active:  true,
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close deactivates every subscription. Later publishes fail.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, sub := range b.subs {
		sub.deactivate()
	}
	b.subs = nil
}

func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// subjectMatches applies NATS wildcard rules token by token: * matches
// exactly one token and a trailing > matches one or more.
func subjectMatches(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return i == len(pattern)-1 && len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
