// Package sink forwards completed traces to external consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/trace"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Channel receives every trace; Channel+".errors" receives device errors.
	Channel string
	// HistoryKey, when set, keeps the last HistoryLen traces in a list.
	HistoryKey string
	HistoryLen int64
	Timeout    time.Duration
}

// TracePayload is the JSON document published per trace.
type TracePayload struct {
	Device       string    `json:"device,omitempty"`
	Product      string    `json:"product"`
	CenterMHz    float64   `json:"center_mhz"`
	SpanMHz      float64   `json:"span_mhz"`
	ReferenceDBm int       `json:"reference_dbm"`
	RBWMHz       float64   `json:"rbw_mhz"`
	Saturated    bool      `json:"saturated"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	CompletedAt  time.Time `json:"completed_at"`
	Frequencies  []float64 `json:"frequencies_mhz"`
	Powers       []float64 `json:"powers_dbm"`
}

type errorPayload struct {
	Device string    `json:"device,omitempty"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

func NewTracePayload(device string, t *trace.Trace) TracePayload {
	points := t.Points()
	p := TracePayload{
		Device:       device,
		Product:      t.Product.String(),
		CenterMHz:    t.CenterMHz(),
		SpanMHz:      t.SpanMHz(),
		ReferenceDBm: t.ReferenceLevel.DBm(),
		RBWMHz:       t.RBW.MHz(),
		Saturated:    t.Saturated,
		ElapsedMS:    t.Elapsed.Milliseconds(),
		CompletedAt:  t.CompletedAt,
		Frequencies:  make([]float64, len(points)),
		Powers:       make([]float64, len(points)),
	}
	for i, pt := range points {
		p.Frequencies[i] = pt.FrequencyMHz
		p.Powers[i] = pt.PowerDBm
	}

	return p
}

// RedisPublisher is a session listener that publishes traces to redis.
type RedisPublisher struct {
	client *redis.Client
	opts   RedisOptions
	device string
	logger *slog.Logger
}

func NewRedisPublisher(ctx context.Context, opts RedisOptions, device string, logger *slog.Logger) (*RedisPublisher, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("redis sink: channel is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	logger.Info("redis sink connected", "addr", opts.Addr, "channel", opts.Channel)

	return &RedisPublisher{client: client, opts: opts, device: device, logger: logger}, nil
}

func (p *RedisPublisher) OnTrace(t *trace.Trace) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	if err := p.Publish(ctx, t); err != nil {
		p.logger.Warn("publish trace failed", "error", err)
	}
}

func (p *RedisPublisher) OnError(e protocol.ErrorResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	data, err := json.Marshal(errorPayload{Device: p.device, Text: e.Text, At: time.Now()})
	if err != nil {
		p.logger.Warn("marshal device error failed", "error", err)
		return
	}
	if err := p.client.Publish(ctx, p.opts.Channel+".errors", data).Err(); err != nil {
		p.logger.Warn("publish device error failed", "error", err)
	}
}

// Publish sends one trace and appends it to the history list.
func (p *RedisPublisher) Publish(ctx context.Context, t *trace.Trace) error {
	data, err := json.Marshal(NewTracePayload(p.device, t))
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if p.opts.HistoryKey == "" {
		if err := p.client.Publish(ctx, p.opts.Channel, data).Err(); err != nil {
			return fmt.Errorf("publish trace: %w", err)
		}
		return nil
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.opts.Channel, data)
	pipe.LPush(ctx, p.opts.HistoryKey, data)
	if p.opts.HistoryLen > 0 {
		pipe.LTrim(ctx, p.opts.HistoryKey, 0, p.opts.HistoryLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish trace: %w", err)
	}

	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
