package clinic

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

// subscriptionBuffer bounds how many unread snapshots a subscriber may lag
// behind before older ones are dropped.
const subscriptionBuffer = 8

// Subscription is one live listener on a case. C yields a fresh snapshot
// after every mutation of the case; the channel closes when the case is
// deleted or the subscription is cancelled.
type Subscription struct {
	key string
	ch  chan *reasoning.GraphSnapshot

	mu     sync.Mutex
	closed bool
}

// C returns the snapshot channel.
func (s *Subscription) C() <-chan *reasoning.GraphSnapshot { return s.ch }

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// hub fans mutated snapshots out to the view sessions of each case. A slow
// consumer loses its oldest queued snapshot rather than stalling the
// publisher: views only ever care about the newest state.
type hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger: logger,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

func (h *hub) subscribe(key string) *Subscription {
	sub := &Subscription{
		key: key,
		ch:  make(chan *reasoning.GraphSnapshot, subscriptionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[key] == nil {
		h.topics[key] = make(map[*Subscription]struct{})
	}
	h.topics[key][sub] = struct{}{}
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if subs, ok := h.topics[sub.key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.key)
		}
	}
	h.mu.Unlock()
	sub.close()
}

func (h *hub) publish(key string, snap *reasoning.GraphSnapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[key] {
		select {
		case sub.ch <- snap:
		default:
			// Full buffer: drop the oldest queued snapshot, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
				h.logger.Warn("dropped snapshot for slow subscriber", zap.String("case", key))
			}
		}
	}
}

// drop closes every subscription on a case. Used when the case is deleted.
func (h *hub) drop(key string) {
	h.mu.Lock()
	subs := h.topics[key]
	delete(h.topics, key)
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// closeAll ends every subscription on every case. Used at shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, subs := range topics {
		for sub := range subs {
			sub.close()
		}
	}
}

func (h *hub) subscriberCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[key])
}
