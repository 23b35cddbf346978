package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Read and Write before Connect succeeds.
var ErrNotConnected = errors.New("transport is not connected")

// Transport is a byte stream to the analyzer. Read returns whatever arrived,
// which may be a partial frame, several frames or nothing at all.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}

// ChunkReader is the read half of a Transport.
type ChunkReader interface {
	Read(ctx context.Context) ([]byte, error)
}
