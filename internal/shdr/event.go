package shdr

import (
	"strconv"
	"sync"
)

// scalar is the shared single-value state behind Event and Sample.
// sent starts empty so the initial UNAVAILABLE goes out on the first cycle.
type scalar struct {
	mu     sync.Mutex
	value  string
	sent   string
	forced bool
}

func (s *scalar) set(v string) {
	v = sanitize(v)
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

func (s *scalar) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *scalar) changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced || s.value != s.sent
}

func (s *scalar) unavailable() {
	s.mu.Lock()
	s.value = Unavailable
	s.forced = true
	s.mu.Unlock()
}

func (s *scalar) cleanup() {
	s.mu.Lock()
	s.sent = s.value
	s.forced = false
	s.mu.Unlock()
}

// Event is a single string-valued data item rendered as name|value.
type Event struct {
	meta
	scalar
}

// NewEvent creates an event whose initial value is UNAVAILABLE.
func NewEvent(name string, opts ...Option) *Event {
	return &Event{meta: newMeta(name, false, opts), scalar: scalar{value: Unavailable}}
}

// Set updates the value. The event is changed when the value differs from
// what was last transmitted.
func (e *Event) Set(value string) { e.set(value) }

// Value returns the current value.
func (e *Event) Value() string { return e.get() }

func (e *Event) Changed() bool { return e.changed() }
func (e *Event) Unavailable()  { e.unavailable() }
func (e *Event) Begin()        {}
func (e *Event) Prepare()      {}
func (e *Event) Cleanup()      { e.cleanup() }

func (e *Event) ItemList(all bool) []Renderer {
	if !all && !e.Changed() {
		return nil
	}
	return []Renderer{e}
}

func (e *Event) Render() string { return e.name + "|" + e.get() }

func (e *Event) dataItem() {}

// Sample is a numeric data item. It renders exactly like an Event.
type Sample struct {
	meta
	scalar
}

// NewSample creates a sample whose initial value is UNAVAILABLE.
func NewSample(name string, opts ...Option) *Sample {
	return &Sample{meta: newMeta(name, false, opts), scalar: scalar{value: Unavailable}}
}

// Set records v using the shortest decimal form that round-trips.
func (s *Sample) Set(v float64) { s.set(strconv.FormatFloat(v, 'f', -1, 64)) }

// SetPrecision records v rounded to the given number of decimal places.
func (s *Sample) SetPrecision(v float64, places int) {
	s.set(strconv.FormatFloat(v, 'f', places, 64))
}

// Value returns the current value as sent on the wire.
func (s *Sample) Value() string { return s.get() }

func (s *Sample) Changed() bool { return s.changed() }
func (s *Sample) Unavailable()  { s.unavailable() }
func (s *Sample) Begin()        {}
func (s *Sample) Prepare()      {}
func (s *Sample) Cleanup()      { s.cleanup() }

func (s *Sample) ItemList(all bool) []Renderer {
	if !all && !s.Changed() {
		return nil
	}
	return []Renderer{s}
}

func (s *Sample) Render() string { return s.name + "|" + s.get() }

func (s *Sample) dataItem() {}
