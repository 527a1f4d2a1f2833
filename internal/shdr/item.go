// Package shdr implements the SHDR streaming text protocol: the data item
// change-tracking model, the wire encoder used by the adapter, and the line
// parser used by readers.
package shdr

import (
	"errors"
	"strings"
)

// Unavailable is the sentinel value sent for items with no known value.
const Unavailable = "UNAVAILABLE"

// ErrNilItem is returned when a nil data item is handed to a collection.
var ErrNilItem = errors.New("nil data item")

// Renderer is anything that renders to one SHDR item field group.
type Renderer interface {
	// Render returns the wire text for the item without a leading or
	// trailing pipe.
	Render() string
}

// DataItem is the closed set of tracked values: *Event, *Sample and
// *Condition.
type DataItem interface {
	Name() string
	Changed() bool
	OwnLine() bool

	// Unavailable forces the UNAVAILABLE sentinel and marks the item changed.
	Unavailable()

	Begin()
	Prepare()
	Cleanup()

	// ItemList returns the sub-items to render. With all set it returns the
	// complete current state, otherwise only what changed.
	ItemList(all bool) []Renderer

	dataItem()
}

// Option configures a data item at construction.
type Option func(*meta)

// WithOwnLine overrides whether the item is sent on its own line.
func WithOwnLine(own bool) Option {
	return func(m *meta) { m.ownLine = own }
}

type meta struct {
	name    string
	ownLine bool
}

func newMeta(name string, ownLine bool, opts []Option) meta {
	m := meta{name: name, ownLine: ownLine}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m *meta) Name() string  { return m.name }
func (m *meta) OwnLine() bool { return m.ownLine }

var fieldSanitizer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// sanitize keeps a value from breaking line framing.
func sanitize(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	return fieldSanitizer.Replace(v)
}
