package dmx

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Event is one notification published by a Universe.
type Event interface {
	event()
}

// ValueChanged is published for every accepted SetValue.
type ValueChanged struct {
	Channel int
	Value   int
}

// AssociationChanged is published when a label is stored or cleared.
// Label is empty for a cleared channel.
type AssociationChanged struct {
	Channel int
	Label   string
}

// AssociationsRemoved is published once before a range of labels is cleared.
type AssociationsRemoved struct {
	FirstChannel int
	Count        int
}

func (ValueChanged) event()        {}
func (AssociationChanged) event()  {}
func (AssociationsRemoved) event() {}

// Handler receives events on the goroutine that caused them.
// ValueChanged arrives on the frame listener goroutine, so handlers must return quickly.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// publisher keeps a copy-on-write list of handlers so that publish never locks.
type publisher struct {
	mu   sync.Mutex
	subs atomic.Value // []subscription
}

func (p *publisher) subscribe(h Handler) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	cur, _ := p.subs.Load().([]subscription)
	next := make([]subscription, len(cur), len(cur)+1)
	copy(next, cur)
	p.subs.Store(append(next, subscription{id: id, handler: h}))
	return id
}

func (p *publisher) unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, _ := p.subs.Load().([]subscription)
	for i, s := range cur {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		p.subs.Store(next)
		return nil
	}
	return ErrSubscriberNotFound
}

func (p *publisher) publish(ev Event) {
	subs, _ := p.subs.Load().([]subscription)
	for _, s := range subs {
		s.handler(ev)
	}
}
