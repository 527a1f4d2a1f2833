// Package reader is a client for the SHDR stream port. It dials with
// backoff, keeps the heartbeat alive and turns received lines into Bubble
// Tea messages.
package reader

import (
	"time"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the stream connects.
type ConnectedMsg struct{ Addr string }

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// ObservationsMsg delivers one parsed data line.
type ObservationsMsg struct {
	Line     shdr.Line
	Received time.Time
}

// AssetMsg delivers a reassembled multiline asset block.
type AssetMsg struct {
	Header   shdr.AssetHeader
	Document string
	Received time.Time
}

// PongMsg is sent for every heartbeat reply. RTT is measured from the most
// recent ping this client sent and is zero when none has been sent.
type PongMsg struct {
	Interval time.Duration
	RTT      time.Duration
	Received time.Time
}

// ItemView mirrors the JSON items served by the adapter's HTTP mirror.
type ItemView struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	OwnLine bool     `json:"ownLine"`
	Lines   []string `json:"lines"`
}
