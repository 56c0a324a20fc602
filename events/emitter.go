/*
Package events provides the listener registry used by long-lived emitters to
publish named property changes to decoupled observers.

An Emitter is embedded by value in its owner. Its registry is allocated on the
first subscription and lives inside the owner, so it is reclaimed together with
the owner and no global table or explicit teardown is needed.
*/
package events

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

var emitterLogger = logrus.WithField("component", "events")

// Kind names a property whose changes are published.
type Kind string

// Event is a single notification delivered to listeners.
type Event struct {
	Source   any    // Owner that published the event
	Kind     Kind   // Property that changed
	Exchange string // Exchange the event belongs to, empty when not exchange scoped
	OldValue any    // Previous value, nil for fire-once notifications
	NewValue any    // Payload of the notification
}

// Listener receives events. It runs on the publishing goroutine.
type Listener func(Event)

// Subscription is the handle returned by Subscribe and required by Unsubscribe.
type Subscription struct {
	id   uint64
	kind Kind // empty for listeners of every kind
}

// Kind returns the kind the subscription is bound to, empty for all kinds.
func (s Subscription) Kind() Kind {
	return s.kind
}

type entry struct {
	id       uint64
	listener Listener
}

type registry struct {
	all    []entry
	byKind map[Kind][]entry
}

// Emitter is a concurrency safe listener registry. The zero value is ready to use.
// An Emitter must not be copied after first use.
type Emitter struct {
	mu     sync.RWMutex
	reg    *registry
	nextID uint64
	source any
}

// SetSource records the owner reported in Event.Source.
func (e *Emitter) SetSource(source any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
}

func (e *Emitter) registry() *registry {
	if e.reg == nil {
		e.reg = &registry{byKind: make(map[Kind][]entry)}
	}
	return e.reg
}

// Subscribe registers a listener for every kind.
func (e *Emitter) Subscribe(listener Listener) Subscription {
	return e.SubscribeKind("", listener)
}

// SubscribeKind registers a listener for a single kind. An empty kind
// registers for every kind.
func (e *Emitter) SubscribeKind(kind Kind, listener Listener) Subscription {
	if listener == nil {
		panic("events: nil listener")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	en := entry{id: e.nextID, listener: listener}
	reg := e.registry()
	if kind == "" {
		reg.all = append(reg.all, en)
	} else {
		reg.byKind[kind] = append(reg.byKind[kind], en)
	}

	return Subscription{id: en.id, kind: kind}
}

// Unsubscribe removes a listener. Unknown or already removed subscriptions
// are ignored.
func (e *Emitter) Unsubscribe(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reg == nil {
		return
	}

	if sub.kind == "" {
		e.reg.all = without(e.reg.all, sub.id)
		return
	}

	remaining := without(e.reg.byKind[sub.kind], sub.id)
	if len(remaining) == 0 {
		delete(e.reg.byKind, sub.kind)
		return
	}
	e.reg.byKind[sub.kind] = remaining
}

// without returns a fresh slice so snapshots taken by Publish stay valid.
func without(entries []entry, id uint64) []entry {
	out := make([]entry, 0, len(entries))
	for _, en := range entries {
		if en.id != id {
			out = append(out, en)
		}
	}
	return out
}

// Listeners returns how many listeners would receive an event of the given kind.
func (e *Emitter) Listeners(kind Kind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.reg == nil {
		return 0
	}
	return len(e.reg.all) + len(e.reg.byKind[kind])
}

// Publish notifies listeners that kind changed from oldValue to newValue.
// Nothing is delivered when both values are non-nil and equal.
func (e *Emitter) Publish(kind Kind, oldValue, newValue any) {
	e.PublishEvent(Event{Kind: kind, OldValue: oldValue, NewValue: newValue})
}

// PublishEvent delivers ev synchronously to the listeners registered when the
// call starts. Listeners may subscribe or unsubscribe from inside a callback.
func (e *Emitter) PublishEvent(ev Event) {
	if ev.OldValue != nil && ev.NewValue != nil && reflect.DeepEqual(ev.OldValue, ev.NewValue) {
		return
	}

	e.mu.RLock()
	if e.reg == nil {
		e.mu.RUnlock()
		return
	}
	// Slices are replaced, never mutated in place, so holding the headers is enough.
	all := e.reg.all
	kinded := e.reg.byKind[ev.Kind]
	if ev.Source == nil {
		ev.Source = e.source
	}
	e.mu.RUnlock()

	for _, en := range kinded {
		deliver(en.listener, ev)
	}
	for _, en := range all {
		deliver(en.listener, ev)
	}
}

func deliver(listener Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			emitterLogger.WithFields(logrus.Fields{
				"kind":     ev.Kind,
				"exchange": ev.Exchange,
				"panic":    r,
			}).Error("Listener panicked while handling event")
		}
	}()
	listener(ev)
}
