package realtime

import (
	"slices"
	"sync"

	"github.com/parley-chat/parley/pkg/chat"
)

// Handler consumes one dispatched event. Handlers run synchronously on the
// connection's read goroutine in delivery order, so they must return
// quickly and must never wait on a protocol round-trip; hand off to another
// goroutine before doing anything slow.
type Handler func(chat.Event)

// StateHandler observes connection state transitions. The same execution
// contract as Handler applies.
type StateHandler func(State)

// Dispatcher fans decoded server events out to subscribers. Any number of
// subscriptions may exist per event type; each can be narrowed to a single
// conversation. Delivery follows registration order.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	events map[chat.EventType]map[int]subscriber
	states map[int]StateHandler
}

type subscriber struct {
	conv string
	fn   Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		events: make(map[chat.EventType]map[int]subscriber),
		states: make(map[int]StateHandler),
	}
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscriber)

// ForConversation limits a subscription to events scoped to the given
// conversation id. Events without a conversation scope (reactions, unpins,
// presence, some notifications) still reach every subscriber of their type,
// because their target can only be located by message identity.
func ForConversation(id string) SubscribeOption {
	return func(s *subscriber) { s.conv = id }
}

// Subscribe registers fn for events of the given type and returns the
// subscription handle. The subscription stays active until its Close.
func (d *Dispatcher) Subscribe(t chat.EventType, fn Handler, opts ...SubscribeOption) *Subscription {
	sub := subscriber{fn: fn}
	for _, opt := range opts {
		opt(&sub)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	m, ok := d.events[t]
	if !ok {
		m = make(map[int]subscriber)
		d.events[t] = m
	}
	m[id] = sub

	return &Subscription{cancel: func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.events[t], id)
	}}
}

// SubscribeState registers fn for connection state transitions.
func (d *Dispatcher) SubscribeState(fn StateHandler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.states[id] = fn

	return &Subscription{cancel: func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.states, id)
	}}
}

// Dispatch delivers ev to every matching subscription in registration
// order, on the calling goroutine.
func (d *Dispatcher) Dispatch(ev chat.Event) {
	conv := ev.Conversation()

	d.mu.RLock()
	subs := d.events[ev.Type()]
	handlers := make([]Handler, 0, len(subs))
	for _, id := range sortedKeys(subs) {
		s := subs[id]
		if s.conv != "" && conv != "" && s.conv != conv {
			continue
		}
		handlers = append(handlers, s.fn)
	}
	d.mu.RUnlock()

	// Invoke outside the lock so handlers can subscribe and unsubscribe.
	for _, fn := range handlers {
		fn(ev)
	}
}

// DispatchState delivers a state transition to every state subscriber.
func (d *Dispatcher) DispatchState(s State) {
	d.mu.RLock()
	handlers := make([]StateHandler, 0, len(d.states))
	for _, id := range sortedKeys(d.states) {
		handlers = append(handlers, d.states[id])
	}
	d.mu.RUnlock()

	for _, fn := range handlers {
		fn(s)
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Subscription is a live registration on a Dispatcher. Closing it removes
// the registration; a closed Subscription receives nothing.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
