package swap

import (
	"sync"
	"time"
)

// Event types emitted during a swap.
const (
	EventSwapQuoted     = "swap_quoted"
	EventOrderSubmitted = "order_submitted"
	EventSecretShared   = "secret_shared"
	EventStatusChanged  = "status_changed"
	EventSwapFinished   = "swap_finished"
	EventSwapFailed     = "swap_failed"
	EventSwapTimeout    = "swap_timeout"
)

// SwapEvent represents an event that occurred during a swap.
type SwapEvent struct {
	SwapID    string      `json:"swap_id"`
	OrderHash string      `json:"order_hash,omitempty"`
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventHandler is called when swap events occur. Each handler runs on its
// own goroutine and receives events in emission order. A slow handler delays
// only its own queue.
type EventHandler func(event SwapEvent)

// subscriber queues events for one handler.
type subscriber struct {
	handler EventHandler

	mu     sync.Mutex
	queue  []SwapEvent
	notify chan struct{}
}

func newSubscriber(handler EventHandler) *subscriber {
	sub := &subscriber{
		handler: handler,
		notify:  make(chan struct{}, 1),
	}
	go sub.run()
	return sub
}

// push never blocks the emitter.
func (s *subscriber) push(event SwapEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()

			for _, event := range batch {
				s.handler(event)
			}
		}
	}
}

// OnEvent registers an event handler.
func (o *Orchestrator) OnEvent(handler EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, newSubscriber(handler))
}

func (o *Orchestrator) emitEvent(sess *Session, eventType string, data interface{}) {
	event := SwapEvent{
		SwapID:    sess.ID,
		OrderHash: sess.OrderHash,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, sub := range o.subscribers {
		sub.push(event)
	}
}
