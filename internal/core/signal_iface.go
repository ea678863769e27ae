package core

import "errors"

//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks

var (
	ErrBackpressure = errors.New("send queue full")
	ErrClosed       = errors.New("connection closed")
)

// Frame is one encoded outgoing event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It fails with ErrBackpressure when
	// the queue is full and ErrClosed once the connection is closed.
	TrySend(f Frame) error
	Close()
}
