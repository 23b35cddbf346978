package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultIPPort is the raw TCP port most serial device servers expose.
const DefaultIPPort = 4001

const (
	ipDialTimeout      = 6 * time.Second
	ipIdleReadDeadline = 100 * time.Millisecond
	ipReadBufferSize   = 2048
)

// IPTransport reaches an analyzer behind a serial-over-TCP bridge.
type IPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	readBuf []byte
}

func NewIPTransport(host string, port int) *IPTransport {
	if port == 0 {
		port = DefaultIPPort
	}

	return &IPTransport{host: host, port: port, readBuf: make([]byte, ipReadBufferSize)}
}

func (t *IPTransport) Name() string {
	return "ip"
}

func (t *IPTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host == "" {
		return ""
	}

	return t.target()
}

func (t *IPTransport) target() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *IPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *IPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("ip", "target", t.target())
	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("ip host is empty")
	}

	dialer := net.Dialer{Timeout: ipDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", t.target())
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *IPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("ip", "target", t.target())
	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

// Read waits at most until the context deadline or a short idle deadline,
// whichever comes first, and returns what arrived.
func (t *IPTransport) Read(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(ipIdleReadDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	n, err := conn.Read(t.readBuf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read tcp: connection closed: %w", err)
		}

		return nil, fmt.Errorf("read tcp: %w", err)
	}
	chunk := make([]byte, n)
	copy(chunk, t.readBuf[:n])
	transportLogger("ip").Debug("read chunk", "len", n)

	return chunk, nil
}

func (t *IPTransport) Write(ctx context.Context, p []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := writeFull(ctx, conn, p); err != nil {
		transportLogger("ip").Warn("write failed", "len", len(p), "error", err)

		return fmt.Errorf("write tcp: %w", err)
	}

	return nil
}

func (t *IPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
