// Package source drives the adapter's scan cycle from pluggable data
// sources.
package source

import (
	"context"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

// Target is the part of the adapter a scan loop drives.
type Target interface {
	AddDataItem(di shdr.DataItem) error
	Begin()
	SendChanged() int
	MarkAllUnavailable()
}

// Source produces data item values for one device.
//
// Implementations are called from the runner goroutine only and do not
// need to be safe for concurrent use.
type Source interface {
	// Name returns a short lowercase identifier used in logs, e.g. "mock"
	// or "host".
	Name() string

	// Register creates the source's data items and adds them to t. It is
	// called once before the first Scan.
	Register(t Target) error

	// Scan reads the device and sets item values. It runs between the
	// adapter's Begin and SendChanged, so conditions must re-assert every
	// alarm that is still active.
	Scan(ctx context.Context) error
}
