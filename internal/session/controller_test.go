package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skobkin/avcomgo/internal/bus"
	"github.com/skobkin/avcomgo/internal/connectors"
	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/protocol/protocoltest"
	"github.com/skobkin/avcomgo/internal/trace"
)

func testOptions() Options {
	return Options{
		Timeouts: Timeouts{
			Waveform:            80 * time.Millisecond,
			HardwareDescription: 40 * time.Millisecond,
		},
		SettleDelay:   time.Millisecond,
		InitAttempts:  5,
		InitInterval:  5 * time.Millisecond,
		ListenerGrace: 200 * time.Millisecond,
		ListenerQueue: 4,
	}
}

func sweepSettings(center, span float64) protocol.SettingsRequest {
	return protocol.SettingsRequest{
		CenterMHz:      center,
		SpanMHz:        span,
		ReferenceLevel: protocol.ReferenceLevelMinus30,
		RBW:            protocol.RBW1MHz,
		Input:          protocol.InputRF1,
	}
}

type collector struct {
	traces chan *trace.Trace
	errors chan protocol.ErrorResponse
}

func newCollector() *collector {
	return &collector{
		traces: make(chan *trace.Trace, 16),
		errors: make(chan protocol.ErrorResponse, 16),
	}
}

func (c *collector) OnTrace(t *trace.Trace)           { c.traces <- t }
func (c *collector) OnError(e protocol.ErrorResponse) { c.errors <- e }

func (c *collector) next(t *testing.T) *trace.Trace {
	t.Helper()
	select {
	case tr := <-c.traces:
		return tr
	case <-time.After(5 * time.Second):
		t.Fatalf("no trace delivered")
		return nil
	}
}

func newReadyController(t *testing.T, dev *fakeAnalyzer, b bus.MessageBus) (*Controller, *collector) {
	t.Helper()

	c := New(nil, b, dev, nil, testOptions())
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	col := newCollector()
	c.AddListener("test", col)

	return c, col
}

func TestInitializeRetriesUntilAnswered(t *testing.T) {
	dev := newFakeAnalyzer()
	dev.hwAnswerAt = 3

	c := New(nil, nil, dev, nil, testOptions())
	defer func() { _ = c.Close() }()

	hd, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := dev.hardwareRequests(); got != 3 {
		t.Fatalf("expected 3 identity requests, got %d", got)
	}
	if hd.SerialNumber != "A2500-000123" || hd.MaxFrequencyMHz != 2500 {
		t.Fatalf("unexpected hardware description: %+v", hd)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready, got %s", c.State())
	}
	if stored, ok := c.HardwareDescription(); !ok || stored.SerialNumber != hd.SerialNumber {
		t.Fatalf("hardware description not stored")
	}
}

func TestInitializeFailsAfterRetryBudget(t *testing.T) {
	dev := newFakeAnalyzer()
	dev.hwAnswerAt = 0

	c := New(nil, nil, dev, nil, testOptions())
	_, err := c.Initialize(context.Background())
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
	if got := dev.hardwareRequests(); got != 5 {
		t.Fatalf("expected 5 identity requests, got %d", got)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if err := c.SetSettings(sweepSettings(1000, 100)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after failed init, got %v", err)
	}
}

func TestOperationsBeforeReady(t *testing.T) {
	c := New(nil, nil, newFakeAnalyzer(), nil, testOptions())
	defer func() { _ = c.Close() }()

	if err := c.SetSettings(sweepSettings(1000, 100)); !errors.Is(err, ErrNotReady) {
		t.Fatalf("set settings: expected ErrNotReady, got %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("start: expected ErrNotReady, got %v", err)
	}
}

func TestStartRequiresSettings(t *testing.T) {
	c, _ := newReadyController(t, newFakeAnalyzer(), nil)
	if err := c.Start(); !errors.Is(err, ErrNoSettings) {
		t.Fatalf("expected ErrNoSettings, got %v", err)
	}
}

func TestSetSettingsRejectsUnavailableRBW(t *testing.T) {
	c, _ := newReadyController(t, newFakeAnalyzer(), nil)
	req := sweepSettings(1000, 10)
	req.RBW = protocol.RBW10kHz
	if err := c.SetSettings(req); !errors.Is(err, ErrUnsupportedRBW) {
		t.Fatalf("expected ErrUnsupportedRBW, got %v", err)
	}
}

func TestFullRangeSweepDeliversTrace(t *testing.T) {
	b := bus.New(nil)
	// Registered first so it runs after the controller is closed.
	t.Cleanup(b.Close)
	summaries := b.Subscribe(connectors.TopicTrace)

	dev := newFakeAnalyzer()
	c, col := newReadyController(t, dev, b)

	desired := sweepSettings(1250, 2500)
	if err := c.SetSettings(desired); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if got := len(c.Plan()); got != 8 {
		t.Fatalf("expected 8 sub-requests, got %d", got)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	tr := col.next(t)
	if tr.Requested != desired {
		t.Fatalf("trace carries wrong request: %+v", tr.Requested)
	}
	if tr.SubResponses() != 8 {
		t.Fatalf("expected 8 sub-responses, got %d", tr.SubResponses())
	}
	if tr.Len() != 8*protocol.SamplesPerWaveform {
		t.Fatalf("expected %d points, got %d", 8*protocol.SamplesPerWaveform, tr.Len())
	}
	if tr.MinMHz() != 5 || tr.MaxMHz() >= 2500 {
		t.Fatalf("trace bounds %v..%v", tr.MinMHz(), tr.MaxMHz())
	}
	if tr.Saturated {
		t.Fatalf("flat level 100 must not saturate")
	}

	select {
	case raw := <-summaries:
		summary, ok := raw.(connectors.TraceSummary)
		if !ok || summary.Points != tr.Len() {
			t.Fatalf("unexpected trace summary %#v", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trace summary not published")
	}

	stats := c.Stats()
	if stats.Traces == 0 || stats.Read < 9 || stats.Written < 17 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.MinElapsed <= 0 || stats.MaxElapsed < stats.MinElapsed || stats.AvgElapsed <= 0 {
		t.Fatalf("elapsed counters not updated: %+v", stats)
	}
}

func TestSweepSkipsFailedSubRequest(t *testing.T) {
	// Center 1000, span 960 plans four sub-requests: 680, 1000, 1320, 1640.
	tests := []struct {
		name      string
		reply     func(dev *fakeAnalyzer, s protocol.SettingsRequest) [][]byte
		wantError bool
	}{
		{
			name: "device error",
			reply: func(*fakeAnalyzer, protocol.SettingsRequest) [][]byte {
				return [][]byte{protocoltest.Error("PLL UNLOCK")}
			},
			wantError: true,
		},
		{
			name:  "timeout",
			reply: func(*fakeAnalyzer, protocol.SettingsRequest) [][]byte { return nil },
		},
		{
			name: "malformed",
			reply: func(*fakeAnalyzer, protocol.SettingsRequest) [][]byte {
				return [][]byte{protocoltest.Frame(0x42, []byte{0x01})}
			},
		},
		{
			name: "stale center",
			reply: func(dev *fakeAnalyzer, s protocol.SettingsRequest) [][]byte {
				s.CenterMHz += 10
				return [][]byte{dev.flat(s, 100)}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeAnalyzer()
			dev.setWaveformHook(func(n int, s protocol.SettingsRequest) [][]byte {
				if n == 2 {
					return tc.reply(dev, s)
				}
				return [][]byte{dev.flat(s, 100)}
			})
			c, col := newReadyController(t, dev, nil)

			if err := c.SetSettings(sweepSettings(1000, 960)); err != nil {
				t.Fatalf("set settings: %v", err)
			}
			if err := c.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}

			tr := col.next(t)
			if tr.SubResponses() != 3 {
				t.Fatalf("expected 3 sub-responses, got %d", tr.SubResponses())
			}
			if _, ok := tr.PowerAt(1000); ok {
				t.Fatalf("failed sub-request must not contribute samples")
			}
			if c.State() != StateScanning {
				t.Fatalf("session left scanning state: %s", c.State())
			}

			if tc.wantError {
				select {
				case e := <-col.errors:
					if e.Text != "PLL UNLOCK" {
						t.Fatalf("unexpected device error %q", e.Text)
					}
				case <-time.After(2 * time.Second):
					t.Fatalf("device error not forwarded to listener")
				}
				if c.Stats().Errored == 0 {
					t.Fatalf("error counter not incremented")
				}
			} else if c.Stats().Skipped == 0 {
				t.Fatalf("skip counter not incremented")
			}
		})
	}
}

func TestSweepAcceptsCenterRoundedWithinOneRBWStep(t *testing.T) {
	dev := newFakeAnalyzer()
	dev.setWaveformHook(func(n int, s protocol.SettingsRequest) [][]byte {
		if n == 2 {
			s.CenterMHz += 0.5
		}
		return [][]byte{dev.flat(s, 100)}
	})
	c, col := newReadyController(t, dev, nil)

	if err := c.SetSettings(sweepSettings(1000, 960)); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if tr := col.next(t); tr.SubResponses() != 4 {
		t.Fatalf("rounded echo must not be skipped, got %d sub-responses", tr.SubResponses())
	}
	if c.Stats().Skipped != 0 {
		t.Fatalf("unexpected skips: %+v", c.Stats())
	}
}

func TestConfigMismatchDiscardsOnlyCurrentTrace(t *testing.T) {
	dev := newFakeAnalyzer()
	dev.setWaveformHook(func(n int, s protocol.SettingsRequest) [][]byte {
		if n == 2 {
			s.ReferenceLevel = protocol.ReferenceLevelMinus10
		}
		return [][]byte{dev.flat(s, 100)}
	})
	c, col := newReadyController(t, dev, nil)

	if err := c.SetSettings(sweepSettings(1000, 960)); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	tr := col.next(t)
	if tr.SubResponses() != 4 || tr.Len() != 4*protocol.SamplesPerWaveform {
		t.Fatalf("expected a complete trace after the mismatch, got subs=%d len=%d", tr.SubResponses(), tr.Len())
	}
	if tr.ReferenceLevel != protocol.ReferenceLevelMinus30 {
		t.Fatalf("delivered trace mixes configurations: %s", tr.ReferenceLevel)
	}
	if got := c.Stats().Discarded; got != 1 {
		t.Fatalf("expected one discarded trace, got %d", got)
	}
	if c.State() != StateScanning {
		t.Fatalf("session left scanning state: %s", c.State())
	}
}

func TestSetSettingsMidSweepDiscardsTrace(t *testing.T) {
	dev := newFakeAnalyzer()
	c, col := newReadyController(t, dev, nil)

	first := sweepSettings(1000, 960)
	second := sweepSettings(2000, 200)

	reached := make(chan struct{})
	release := make(chan struct{})
	var pendingAtSecond atomic.Int64
	pendingAtSecond.Store(-1)

	dev.setWaveformHook(func(n int, s protocol.SettingsRequest) [][]byte {
		if n == 2 {
			close(reached)
			<-release
		}
		if sameFrequency(s.CenterMHz, second.CenterMHz, wireResolutionMHz) {
			pendingAtSecond.CompareAndSwap(-1, int64(c.PendingPoints()))
		}
		return [][]byte{dev.flat(s, 100)}
	})

	if err := c.SetSettings(first); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatalf("sweep never reached the second sub-request")
	}
	if got := c.PendingPoints(); got != protocol.SamplesPerWaveform {
		t.Fatalf("expected one merged sub-response before interrupt, got %d points", got)
	}
	if err := c.SetSettings(second); err != nil {
		t.Fatalf("set settings mid-sweep: %v", err)
	}
	close(release)

	tr := col.next(t)
	if tr.Requested != second {
		t.Fatalf("first delivered trace belongs to the old settings: %+v", tr.Requested)
	}
	if tr.SubResponses() != 1 || tr.Len() != protocol.SamplesPerWaveform {
		t.Fatalf("trace mixes queues: subs=%d len=%d", tr.SubResponses(), tr.Len())
	}
	if tr.MinMHz() < second.StartMHz() || tr.MaxMHz() > second.StopMHz() {
		t.Fatalf("trace outside new range: %v..%v", tr.MinMHz(), tr.MaxMHz())
	}
	if got := pendingAtSecond.Load(); got != 0 {
		t.Fatalf("partial trace not reset before new queue, pending=%d", got)
	}
	if c.Stats().Discarded == 0 {
		t.Fatalf("discarded counter not incremented")
	}
}

func TestTransportWriteErrorKeepsScanning(t *testing.T) {
	dev := newFakeAnalyzer()
	c, _ := newReadyController(t, dev, nil)

	if err := c.SetSettings(sweepSettings(1000, 100)); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	dev.mu.Lock()
	dev.writeErr = errors.New("cable unplugged")
	dev.mu.Unlock()

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for c.Stats().Errored == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("transport error not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.State() != StateScanning {
		t.Fatalf("transport error changed state to %s", c.State())
	}
}

func TestStopAndClose(t *testing.T) {
	c, _ := newReadyController(t, newFakeAnalyzer(), nil)
	if err := c.SetSettings(sweepSettings(1000, 100)); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready after stop, got %s", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if err := c.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
