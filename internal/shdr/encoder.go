package shdr

import (
	"strings"
	"time"
)

const (
	// MaxLineLength bounds the item content batched onto one line. The
	// timestamp is not counted.
	MaxLineLength = 100

	// TimeFormat is the UTC millisecond timestamp prefixed to every line.
	TimeFormat = "2006-01-02T15:04:05.000Z"

	lineEnd = "\r\n"
)

// FormatTime renders t as an SHDR timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithClock replaces the time source used when no timestamp is given.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) { e.now = now }
}

// WithBoundary replaces the multiline boundary generator for asset blocks.
func WithBoundary(fn func(doc string) string) EncoderOption {
	return func(e *Encoder) { e.boundary = fn }
}

// Encoder turns data items into SHDR lines. It holds no per-call state and
// is safe for concurrent use.
type Encoder struct {
	now      func() time.Time
	boundary func(doc string) string
}

// NewEncoder returns an encoder using the wall clock.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{now: time.Now, boundary: newBoundary}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) timestamp(ts string) string {
	if ts != "" {
		return ts
	}
	return FormatTime(e.now())
}

// Changed renders only the items that changed since the last call and then
// resets their change tracking. When prepare is set, Prepare runs on every
// item first so conditions sweep unconfirmed alarms. An empty timestamp
// means now.
func (e *Encoder) Changed(items []DataItem, prepare bool, timestamp string) []string {
	if prepare {
		for _, di := range items {
			di.Prepare()
		}
	}

	var together, separate []Renderer
	for _, di := range items {
		if !di.Changed() {
			continue
		}
		list := di.ItemList(false)
		if di.OwnLine() {
			separate = append(separate, list...)
		} else {
			together = append(together, list...)
		}
	}

	ts := e.timestamp(timestamp)
	lines := batch(ts, together)
	for _, r := range separate {
		lines = append(lines, ts+"|"+r.Render()+lineEnd)
	}

	for _, di := range items {
		di.Cleanup()
	}
	return lines
}

// Full renders the complete current state of every item regardless of
// change tracking, which it leaves untouched. Shared-line items go out on a
// single combined line.
func (e *Encoder) Full(items []DataItem, timestamp string) []string {
	var together, separate []Renderer
	for _, di := range items {
		list := di.ItemList(true)
		if di.OwnLine() {
			separate = append(separate, list...)
		} else {
			together = append(together, list...)
		}
	}

	ts := e.timestamp(timestamp)
	var lines []string
	if len(together) > 0 {
		var b strings.Builder
		b.WriteString(ts)
		for _, r := range together {
			b.WriteByte('|')
			b.WriteString(r.Render())
		}
		b.WriteString(lineEnd)
		lines = append(lines, b.String())
	}
	for _, r := range separate {
		lines = append(lines, ts+"|"+r.Render()+lineEnd)
	}
	return lines
}

// batch packs rendered items onto as few lines as possible without letting
// the item content of a line exceed MaxLineLength. An item that alone is
// longer than the limit gets a line of its own.
func batch(ts string, items []Renderer) []string {
	var lines []string
	var buf strings.Builder
	for _, r := range items {
		field := "|" + r.Render()
		if buf.Len() > 0 && buf.Len()+len(field) > MaxLineLength {
			lines = append(lines, ts+buf.String()+lineEnd)
			buf.Reset()
		}
		buf.WriteString(field)
	}
	if buf.Len() > 0 {
		lines = append(lines, ts+buf.String()+lineEnd)
	}
	return lines
}

// Asset renders a as one multiline asset block.
func (e *Encoder) Asset(a Asset, timestamp string) string {
	token := multilinePrefix + e.boundary(a.Document)

	var b strings.Builder
	b.WriteString(e.timestamp(timestamp))
	b.WriteString("|" + assetKeyword + "|")
	b.WriteString(a.ID)
	b.WriteByte('|')
	b.WriteString(a.Type)
	b.WriteByte('|')
	b.WriteString(token)
	b.WriteString(lineEnd)
	b.WriteString(a.Document)
	b.WriteString(lineEnd)
	b.WriteString(token)
	b.WriteString(lineEnd)
	return b.String()
}

// Join concatenates encoded lines into one payload.
func Join(lines []string) []byte {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	out := make([]byte, 0, n)
	for _, l := range lines {
		out = append(out, l...)
	}
	return out
}
