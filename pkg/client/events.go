package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/token-beam/token-beam/pkg/protocol"
)

// EventType names an event emitted by a Client.
type EventType string

const (
	EventState            EventType = "state"
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventPaired           EventType = "paired"
	EventPeerConnected    EventType = "peer-connected"
	EventPeerDisconnected EventType = "peer-disconnected"
	EventSync             EventType = "sync"
	EventWarning          EventType = "warning"
	EventError            EventType = "error"
)

// Event is delivered to handlers and subscribers. Only the fields relevant to
// Type are set.
type Event struct {
	Type EventType
	Time time.Time

	// state
	Previous State
	Current  State

	// paired, peer-connected, peer-disconnected
	SessionToken string
	ClientType   string
	Origin       string
	Icon         *protocol.Icon

	// sync
	Payload json.RawMessage

	// warning, error, peer-disconnected (reason)
	Message string

	// disconnected: the transport error, if any
	Err error
}

// Handler observes events of one type.
type Handler func(Event)

// subscriberBuffer is the channel depth for Subscribe. Events are dropped for
// subscribers that fall this far behind.
const subscriberBuffer = 64

type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
	subs     map[chan Event]map[EventType]bool // nil filter = all events
}

func newEmitter() *emitter {
	return &emitter{
		handlers: make(map[EventType]map[int]Handler),
		subs:     make(map[chan Event]map[EventType]bool),
	}
}

func (e *emitter) on(t EventType, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	if e.handlers[t] == nil {
		e.handlers[t] = make(map[int]Handler)
	}
	e.handlers[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[t], id)
			if len(e.handlers[t]) == 0 {
				delete(e.handlers, t)
			}
		})
	}
}

func (e *emitter) subscribe(types ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	e.mu.Lock()
	e.subs[ch] = filter
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		})
	}
}

// emit runs handlers synchronously on the calling goroutine, then fans out
// to subscribers without blocking.
func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	hs := make([]Handler, 0, len(e.handlers[ev.Type]))
	for _, h := range e.handlers[ev.Type] {
		hs = append(hs, h)
	}
	for ch, filter := range e.subs {
		if filter != nil && !filter[ev.Type] {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
