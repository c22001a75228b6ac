// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrReadTimeout         = errors.New("read timeout")
	ErrClosed              = errors.New("transport closed")
)

// Transport is a byte stream to the server. Reads and writes on a Transport
// are not synchronized; callers serialize readers and writers separately.
type Transport interface {
	Connect(ctx context.Context) error
	// Read blocks until at least one byte is available.
	Read(p []byte) (int, error)
	// ReadTimeout waits up to d for the stream to become readable and then
	// performs a single read. It returns ErrReadTimeout if nothing arrived.
	ReadTimeout(p []byte, d time.Duration) (int, error)
	Write(p []byte) (int, error)
	Close() error
	ProtocolType() string
}
