package transport

import (
	"bytes"
	"context"
	"time"

	"github.com/skobkin/avcomgo/internal/protocol"
)

// earlyTerminator is what some firmware sends when it cuts a frame short.
var earlyTerminator = []byte{0xFF, protocol.ETX}

// payloadStart is the first byte after the header and type byte.
const payloadStart = protocol.HeaderLen + 1

// idleReadBackoff throttles polling of transports that return empty chunks
// without blocking.
const idleReadBackoff = 5 * time.Millisecond

// FrameReaderStats counts bytes and frames the reader had to give up on.
type FrameReaderStats struct {
	Frames     uint64
	Desyncs    uint64
	Truncated  uint64
	Discarded  uint64
	PendingLen int
}

// FrameReader reassembles STX/ETX frames from arbitrarily sized chunks.
// A frame may only start at the beginning of a chunk; anything else outside
// an open frame is noise and dropped. It is not safe for concurrent use.
type FrameReader struct {
	header  []byte
	buf     []byte
	cursor  int
	pending [][]byte
	stats   FrameReaderStats
}

func NewFrameReader() *FrameReader {
	return &FrameReader{header: make([]byte, 0, protocol.HeaderLen)}
}

// Feed consumes one chunk and returns the frames it completed, in order.
func (r *FrameReader) Feed(chunk []byte) [][]byte {
	var out [][]byte
	for len(chunk) > 0 {
		if r.buf == nil {
			if len(r.header) == 0 && chunk[0] != protocol.STX {
				r.stats.Discarded += uint64(len(chunk))
				return out
			}
			n := min(protocol.HeaderLen-len(r.header), len(chunk))
			r.header = append(r.header, chunk[:n]...)
			chunk = chunk[n:]
			if len(r.header) < protocol.HeaderLen {
				return out
			}
			declared, err := protocol.DeclaredLength(r.header)
			if err != nil || declared == 0 {
				r.desync()
				continue
			}
			r.buf = make([]byte, protocol.FrameSize(declared))
			r.cursor = copy(r.buf, r.header)
			r.header = r.header[:0]
		}

		remaining := len(r.buf) - r.cursor
		if len(chunk) > remaining {
			r.cursor += copy(r.buf[r.cursor:], chunk[:remaining])
			chunk = chunk[remaining:]
			// A full buffer that ends in ETX followed by more bytes is a
			// back-to-back frame; anything else means we lost sync.
			if r.buf[len(r.buf)-1] == protocol.ETX {
				out = append(out, r.emit())
			} else {
				r.desync()
			}
			continue
		}

		r.cursor += copy(r.buf[r.cursor:], chunk)
		if r.cursor == len(r.buf) {
			out = append(out, r.emit())
			return out
		}
		if bytes.HasSuffix(chunk, earlyTerminator) {
			r.stats.Truncated++
			out = append(out, r.emitPartial())
		}
		return out
	}

	return out
}

// Next returns the next complete frame, reading chunks from src as needed.
func (r *FrameReader) Next(ctx context.Context, src ChunkReader) ([]byte, error) {
	for {
		if len(r.pending) > 0 {
			frame := r.pending[0]
			r.pending = r.pending[1:]
			return frame, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := src.Read(ctx)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(idleReadBackoff):
			}
			continue
		}
		r.pending = append(r.pending, r.Feed(chunk)...)
	}
}

// Reset drops any partial and queued frames.
func (r *FrameReader) Reset() {
	if r.buf != nil || len(r.header) > 0 {
		r.stats.Discarded += uint64(r.cursor + len(r.header))
	}
	for _, f := range r.pending {
		r.stats.Discarded += uint64(len(f))
	}
	r.pending = nil
	r.resetBuffer()
}

func (r *FrameReader) Stats() FrameReaderStats {
	s := r.stats
	s.PendingLen = r.cursor + len(r.header)

	return s
}

func (r *FrameReader) emit() []byte {
	frame := r.buf
	r.stats.Frames++
	r.resetBuffer()

	return frame
}

// emitPartial closes a frame the device cut short. The terminator pair is
// blanked, the rest of the body stays zero and ETX goes to the declared end,
// so the frame decodes with its missing trailing fields read as zero.
func (r *FrameReader) emitPartial() []byte {
	frame := r.buf
	clear(frame[max(payloadStart, r.cursor-len(earlyTerminator)):r.cursor])
	frame[len(frame)-1] = protocol.ETX
	r.resetBuffer()

	return frame
}

func (r *FrameReader) desync() {
	r.stats.Desyncs++
	r.stats.Discarded += uint64(r.cursor + len(r.header))
	r.resetBuffer()
}

func (r *FrameReader) resetBuffer() {
	r.buf = nil
	r.cursor = 0
	r.header = r.header[:0]
}
