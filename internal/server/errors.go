package server

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrNilClient is returned by WriteTo when no client is given.
	ErrNilClient = errors.New("nil client")

	// ErrAlreadyRunning is returned by Start while a listener is active.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrStopTimeout is returned by Stop when connection goroutines did not
	// finish in time. The server is stopped regardless.
	ErrStopTimeout = errors.New("timed out waiting for connections to finish")
)

// IsExpectedCloseError reports whether err is ordinary connection teardown:
// EOF, a closed connection, broken pipe, connection reset or a cancelled
// context. These are logged at debug level at most.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
