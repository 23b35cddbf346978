package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of every decode failure. Protocol errors are local
// to one frame: callers drop the frame and keep going.
var ErrProtocol = errors.New("protocol error")

var (
	ErrUnrecognizedType = fmt.Errorf("%w: unrecognized message type", ErrProtocol)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrProtocol)
	ErrFrameLength      = fmt.Errorf("%w: frame length mismatch", ErrProtocol)
	ErrUnsupported      = fmt.Errorf("%w: unsupported message", ErrProtocol)
)
