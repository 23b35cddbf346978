// Package session drives one analyzer: identity handshake, sweep planning
// and the scan loop that turns sub-responses into traces.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/avcomgo/internal/bus"
	"github.com/skobkin/avcomgo/internal/connectors"
	"github.com/skobkin/avcomgo/internal/metrics"
	"github.com/skobkin/avcomgo/internal/planner"
	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/trace"
	"github.com/skobkin/avcomgo/internal/transport"
)

var errReadTimeout = errors.New("read timed out")

// wireResolutionMHz is the step of the 4-byte fixed point frequency field.
const wireResolutionMHz = 0.0001

// Controller owns the transport once initialized: the scan goroutine is its
// only reader and writer. Other methods are safe for concurrent use.
type Controller struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus
	metrics   *metrics.Metrics
	opts      Options
	reader    *transport.FrameReader
	counters  Counters
	listeners *fanout

	mu      sync.Mutex
	state   State
	hw      *protocol.HardwareDescriptionResponse
	desired protocol.SettingsRequest
	queue   []protocol.SettingsRequest

	interrupt   atomic.Bool
	pending     atomic.Int64
	wake        chan struct{}
	loopCtx     context.Context
	cancel      context.CancelFunc
	loopStarted atomic.Bool
	done        chan struct{}
}

// New creates an uninitialized controller. b and m may be nil.
func New(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, m *metrics.Metrics, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("transport", tr.Name())
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		logger:    logger,
		transport: tr,
		bus:       b,
		metrics:   m,
		opts:      opts.withDefaults(),
		reader:    transport.NewFrameReader(),
		wake:      make(chan struct{}, 1),
		loopCtx:   ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.listeners = newFanout(logger, c.opts.ListenerGrace, c.opts.ListenerQueue, func(string) {
		c.metrics.ListenerDetached()
	})
	c.metrics.SetState(StateUninitialized.String(), stateNames()...)

	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// HardwareDescription returns the identity reported during Initialize.
func (c *Controller) HardwareDescription() (protocol.HardwareDescriptionResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hw == nil {
		return protocol.HardwareDescriptionResponse{}, false
	}

	return *c.hw, true
}

// Plan returns a copy of the live sub-request queue.
func (c *Controller) Plan() []protocol.SettingsRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.queue)
}

// PendingPoints is the number of frequencies merged into the sweep in
// progress. It drops to zero when a partial trace is discarded.
func (c *Controller) PendingPoints() int {
	return int(c.pending.Load())
}

func (c *Controller) Stats() Stats {
	s := c.counters.snapshot()
	s.PendingPoints = c.PendingPoints()
	s.DetachedClients = c.listeners.detachedCount()

	return s
}

// AddListener registers l and returns a function that removes it.
func (c *Controller) AddListener(name string, l Listener) func() {
	return c.listeners.add(name, l)
}

// Initialize asks the analyzer to identify itself, retrying a fixed number
// of times. Failure is final and leaves the controller Stopped.
func (c *Controller) Initialize(ctx context.Context) (protocol.HardwareDescriptionResponse, error) {
	c.mu.Lock()
	switch c.state {
	case StateUninitialized:
	case StateStopped:
		c.mu.Unlock()
		return protocol.HardwareDescriptionResponse{}, ErrClosed
	default:
		c.mu.Unlock()
		return protocol.HardwareDescriptionResponse{}, fmt.Errorf("initialize in state %s: %w", c.state, ErrNotReady)
	}
	c.state = StateInitializing
	c.mu.Unlock()
	c.stateChanged(StateInitializing, nil)

	var lastErr error
	for attempt := 1; attempt <= c.opts.InitAttempts; attempt++ {
		if attempt > 1 && !sleepWithContext(ctx, c.opts.InitInterval) {
			lastErr = ctx.Err()
			break
		}

		hd, err := c.requestHardwareDescription(ctx)
		if err == nil {
			return c.initialized(hd)
		}
		lastErr = err
		c.logger.Warn("hardware description attempt failed", "attempt", attempt, "attempts", c.opts.InitAttempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	err := fmt.Errorf("%w: no hardware description after %d attempts: %v", ErrInitialization, c.opts.InitAttempts, lastErr)
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.cancel()
	c.listeners.close()
	c.stateChanged(StateStopped, err)

	return protocol.HardwareDescriptionResponse{}, err
}

func (c *Controller) initialized(hd protocol.HardwareDescriptionResponse) (protocol.HardwareDescriptionResponse, error) {
	c.mu.Lock()
	if c.state != StateInitializing {
		c.mu.Unlock()
		return hd, ErrClosed
	}
	c.hw = &hd
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("analyzer identified",
		"product", hd.Product,
		"firmware", hd.FirmwareVersion(),
		"serial", hd.SerialNumber,
		"min_mhz", hd.MinFrequencyMHz,
		"max_mhz", hd.MaxFrequencyMHz,
	)
	if c.opts.MinFirmware != "" && !hd.FirmwareAtLeast(c.opts.MinFirmware) {
		c.logger.Warn("analyzer firmware older than supported", "firmware", hd.FirmwareVersion(), "min_firmware", c.opts.MinFirmware)
	}
	c.publish(connectors.TopicHardware, connectors.HardwareInfo{
		Product:  hd.Product.String(),
		Firmware: hd.FirmwareVersion(),
		Serial:   hd.SerialNumber,
		Snapshot: hd.Snapshot(),
	})
	c.stateChanged(StateReady, nil)

	c.loopStarted.Store(true)
	go c.run(c.loopCtx)

	return hd, nil
}

func (c *Controller) requestHardwareDescription(ctx context.Context) (protocol.HardwareDescriptionResponse, error) {
	c.reader.Reset()
	if err := c.send(ctx, protocol.HardwareDescriptionRequest{}); err != nil {
		return protocol.HardwareDescriptionResponse{}, err
	}

	deadline := time.Now().Add(c.opts.Timeouts.HardwareDescription)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.HardwareDescriptionResponse{}, errReadTimeout
		}
		dg, err := c.readDatagram(ctx, remaining)
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				continue
			}
			return protocol.HardwareDescriptionResponse{}, err
		}
		switch v := dg.(type) {
		case protocol.HardwareDescriptionResponse:
			return v, nil
		case protocol.ErrorResponse:
			c.handleDeviceError(v)
		default:
			c.logger.Debug("ignoring datagram while waiting for hardware description", "type", dg.Type())
		}
	}
}

// SetSettings plans desired against the analyzer range and replaces the
// sub-request queue. A sweep in progress is abandoned.
func (c *Controller) SetSettings(desired protocol.SettingsRequest) error {
	c.mu.Lock()
	state, hw := c.state, c.hw
	c.mu.Unlock()

	switch state {
	case StateReady, StateScanning:
	case StateStopped:
		return ErrClosed
	default:
		return fmt.Errorf("set settings in state %s: %w", state, ErrNotReady)
	}
	if len(hw.AvailableBandwidths) > 0 && !slices.Contains(hw.AvailableBandwidths, desired.RBW) {
		return fmt.Errorf("%w: %s", ErrUnsupportedRBW, desired.RBW)
	}

	plan, err := planner.Plan(desired, hw.Limits())
	if err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}

	c.mu.Lock()
	c.desired = desired
	c.queue = plan
	c.interrupt.Store(true)
	c.mu.Unlock()

	c.logger.Info("sweep settings applied", "settings", desired.String(), "sub_requests", len(plan))
	c.notify()

	return nil
}

// Start begins continuous sweeping of the current queue.
func (c *Controller) Start() error {
	c.mu.Lock()
	switch c.state {
	case StateScanning:
		c.mu.Unlock()
		return nil
	case StateReady:
	case StateStopped:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return fmt.Errorf("start in state %s: %w", c.state, ErrNotReady)
	}
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return ErrNoSettings
	}
	c.state = StateScanning
	c.mu.Unlock()

	c.stateChanged(StateScanning, nil)
	c.notify()

	return nil
}

// Stop pauses sweeping after the sub-request in flight. The partial trace
// is dropped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateScanning:
	case StateStopped:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return fmt.Errorf("stop in state %s: %w", c.state, ErrNotReady)
	}
	c.state = StateReady
	c.mu.Unlock()

	c.stateChanged(StateReady, nil)
	c.notify()

	return nil
}

// Close stops the scan loop and detaches all listeners. The transport is
// left to the caller.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.cancel()
	if c.loopStarted.Load() {
		<-c.done
	}
	c.listeners.close()
	c.stateChanged(StateStopped, nil)

	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	c.logger.Debug("scan loop started")
	defer c.logger.Debug("scan loop stopped")

	for {
		if !c.waitScanning(ctx) {
			return
		}
		if c.sweep(ctx) > 0 {
			continue
		}
		// Nothing came back at all; do not spin on a dead link.
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-time.After(c.opts.Timeouts.Waveform):
		}
	}
}

func (c *Controller) waitScanning(ctx context.Context) bool {
	for {
		if c.State() == StateScanning {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.wake:
		}
	}
}

func (c *Controller) scanning(ctx context.Context) bool {
	return ctx.Err() == nil && c.State() == StateScanning
}

// currentQueue takes the queue and clears the interrupt under one lock so a
// concurrent SetSettings is either seen now or flagged for the next check.
func (c *Controller) currentQueue() (protocol.SettingsRequest, []protocol.SettingsRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupt.Store(false)

	return c.desired, c.queue
}

// sweep traverses the queue once and returns how many sub-responses it got.
func (c *Controller) sweep(ctx context.Context) int {
	desired, queue := c.currentQueue()
	tr := trace.Begin(desired)
	c.pending.Store(0)
	got := 0

	for _, sub := range queue {
		if !c.scanning(ctx) {
			c.discard(tr, "stopped")
			return got
		}
		if c.interrupt.Load() {
			c.discard(tr, "interrupted")
			return got
		}

		wf, ok := c.scanOne(ctx, sub)
		if !ok {
			continue
		}
		got++
		if c.interrupt.Load() {
			c.discard(tr, "interrupted")
			return got
		}
		if err := tr.Add(wf); err != nil {
			c.logger.Warn("sub-response does not match trace", "error", err, "center_mhz", wf.CenterMHz)
			c.discard(tr, "config_mismatch")
			return got
		}
		c.pending.Store(int64(tr.Len()))
	}

	if c.interrupt.Load() {
		c.discard(tr, "interrupted")
		return got
	}
	if !c.scanning(ctx) {
		c.discard(tr, "stopped")
		return got
	}
	c.pending.Store(0)
	if tr.Empty() {
		c.logger.Warn("sweep produced no samples", "sub_requests", len(queue))
		return got
	}

	tr.CompletedAt = time.Now()
	c.deliver(tr)

	return got
}

// scanOne runs one settings/waveform exchange. Every failure is confined to
// this sub-request.
func (c *Controller) scanOne(ctx context.Context, sub protocol.SettingsRequest) (protocol.Waveform8BitResponse, bool) {
	if err := c.send(ctx, sub); err != nil {
		c.handleSendError(err, sub)
		return protocol.Waveform8BitResponse{}, false
	}
	if c.opts.Timeouts.Settings > 0 {
		if dg, err := c.readDatagram(ctx, c.opts.Timeouts.Settings); err == nil {
			if devErr, ok := dg.(protocol.ErrorResponse); ok {
				c.handleDeviceError(devErr)
				c.skip("device_error")
				return protocol.Waveform8BitResponse{}, false
			}
		}
	}
	if !sleepWithContext(ctx, c.opts.SettleDelay) {
		return protocol.Waveform8BitResponse{}, false
	}

	c.reader.Reset()
	started := time.Now()
	if err := c.send(ctx, protocol.WaveformRequest{}); err != nil {
		c.handleSendError(err, sub)
		return protocol.Waveform8BitResponse{}, false
	}

	dg, err := c.readDatagram(ctx, c.opts.Timeouts.Waveform)
	switch {
	case err == nil:
	case errors.Is(err, errReadTimeout):
		c.logger.Debug("waveform response timed out", "center_mhz", sub.CenterMHz)
		c.skip("timeout")
		return protocol.Waveform8BitResponse{}, false
	case errors.Is(err, protocol.ErrProtocol):
		c.logger.Debug("malformed waveform response", "center_mhz", sub.CenterMHz, "error", err)
		c.metrics.Error("protocol")
		c.skip("malformed")
		return protocol.Waveform8BitResponse{}, false
	case ctx.Err() != nil:
		return protocol.Waveform8BitResponse{}, false
	default:
		c.handleTransportError(err)
		c.skip("transport")
		return protocol.Waveform8BitResponse{}, false
	}

	switch v := dg.(type) {
	case protocol.Waveform8BitResponse:
		if !sameFrequency(v.CenterMHz, sub.CenterMHz, sub.RBW.MHz()) {
			c.logger.Debug("stale waveform response", "want_mhz", sub.CenterMHz, "got_mhz", v.CenterMHz)
			c.skip("stale")
			return protocol.Waveform8BitResponse{}, false
		}
		v.Elapsed = time.Since(started)
		c.counters.observeElapsed(v.Elapsed)
		c.metrics.SubResponse(v.Elapsed)
		return v, true
	case protocol.ErrorResponse:
		c.handleDeviceError(v)
		c.skip("device_error")
	default:
		c.logger.Debug("unexpected datagram during sweep", "type", dg.Type())
		c.skip("unexpected")
	}

	return protocol.Waveform8BitResponse{}, false
}

func (c *Controller) send(ctx context.Context, req protocol.Request) error {
	frame, err := protocol.Encode(req)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.opts.Timeouts.Waveform)
	defer cancel()
	if err := c.transport.Write(writeCtx, frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	c.counters.written.Add(1)
	c.metrics.DatagramWritten(req.Type().String())
	c.publishFrame(connectors.TopicRawFrameOut, frame)

	return nil
}

// readDatagram performs one frame read bounded by timeout and decodes it.
func (c *Controller) readDatagram(ctx context.Context, timeout time.Duration) (protocol.Datagram, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := c.reader.Next(readCtx, c.transport)
	c.reportDesyncs()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if readCtx.Err() != nil {
			return nil, errReadTimeout
		}
		return nil, &TransportError{Op: "read", Err: err}
	}
	c.publishFrame(connectors.TopicRawFrameIn, frame)

	dg, err := protocol.Decode(frame)
	if err != nil {
		return nil, err
	}
	c.counters.read.Add(1)
	c.metrics.DatagramRead(dg.Type().String())

	return dg, nil
}

func (c *Controller) handleSendError(err error, sub protocol.SettingsRequest) {
	var te *TransportError
	if errors.As(err, &te) {
		c.handleTransportError(err)
		c.skip("transport")
		return
	}
	c.logger.Warn("sub-request not encodable", "settings", sub.String(), "error", err)
	c.skip("invalid")
}

func (c *Controller) handleTransportError(err error) {
	c.counters.errored.Add(1)
	c.metrics.Error("transport")
	c.logger.Warn("transport error", "error", err)

	ev := connectors.TransportError{Err: err.Error(), Timestamp: time.Now()}
	var te *TransportError
	if errors.As(err, &te) {
		ev.Op = te.Op
	}
	c.publish(connectors.TopicTransportErr, ev)
}

func (c *Controller) handleDeviceError(e protocol.ErrorResponse) {
	c.counters.errored.Add(1)
	c.metrics.Error("device")
	c.logger.Warn("analyzer reported error", "text", e.Text)
	c.listeners.deliverError(e)
	c.publish(connectors.TopicDeviceError, connectors.DeviceError{Text: e.Text, Timestamp: time.Now()})
}

func (c *Controller) skip(reason string) {
	c.counters.skipped.Add(1)
	c.metrics.SubRequestSkipped(reason)
}

func (c *Controller) discard(tr *trace.Trace, reason string) {
	c.pending.Store(0)
	if tr.SubResponses() == 0 {
		return
	}
	c.counters.discarded.Add(1)
	c.metrics.TraceDiscarded(reason)
	c.logger.Debug("partial trace discarded", "reason", reason, "sub_responses", tr.SubResponses())
}

func (c *Controller) deliver(tr *trace.Trace) {
	c.counters.traces.Add(1)
	c.metrics.TraceDelivered(tr.Len())
	c.logger.Debug("trace complete",
		"center_mhz", tr.CenterMHz(),
		"span_mhz", tr.SpanMHz(),
		"points", tr.Len(),
		"saturated", tr.Saturated,
		"elapsed", tr.Elapsed,
	)
	c.listeners.deliverTrace(tr)
	c.publish(connectors.TopicTrace, connectors.TraceSummary{
		CenterMHz:    tr.CenterMHz(),
		SpanMHz:      tr.SpanMHz(),
		Points:       tr.Len(),
		SubResponses: tr.SubResponses(),
		Saturated:    tr.Saturated,
		Elapsed:      tr.Elapsed,
		CompletedAt:  tr.CompletedAt,
	})
}

// reportDesyncs copies reader stats into counters. The reader itself is
// only touched by the goroutine doing I/O.
func (c *Controller) reportDesyncs() {
	rs := c.reader.Stats()
	c.counters.frameDiscarded.Store(rs.Discarded)
	if prev := c.counters.frameDesyncs.Swap(rs.Desyncs); rs.Desyncs > prev {
		c.metrics.FrameDesyncs(rs.Desyncs - prev)
		c.logger.Debug("frame reader lost sync", "desyncs", rs.Desyncs)
	}
}

func (c *Controller) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) stateChanged(state State, err error) {
	c.logger.Info("session state", "state", state)
	c.metrics.SetState(state.String(), stateNames()...)

	status := connectors.SessionStatus{
		State:         state.connectorState(),
		TransportName: c.transport.Name(),
		Timestamp:     time.Now(),
	}
	if resolver, ok := c.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.publish(connectors.TopicSessionState, status)
}

func (c *Controller) publishFrame(topic string, frame []byte) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(topic, connectors.RawFrame{
		Outgoing: topic == connectors.TopicRawFrameOut,
		Hex:      strings.ToUpper(hex.EncodeToString(frame)),
		Len:      len(frame),
	})
}

func (c *Controller) publish(topic string, msg any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(topic, msg)
}

// sameFrequency compares at the wire resolution of 100 Hz.
// sameFrequency reports whether two centers agree within tolerance. Firmware
// may round the echoed center, so the scan loop allows one RBW step.
func sameFrequency(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= max(tolerance, wireResolutionMHz)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
