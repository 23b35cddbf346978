package planner

import (
	"errors"
	"math"
	"testing"

	"github.com/skobkin/avcomgo/internal/protocol"
)

func desired(center, span float64, rbw protocol.ResolutionBandwidth) protocol.SettingsRequest {
	return protocol.SettingsRequest{
		CenterMHz:      center,
		SpanMHz:        span,
		ReferenceLevel: protocol.ReferenceLevelMinus30,
		RBW:            rbw,
		Input:          protocol.InputRF1,
	}
}

var wideLimits = protocol.FrequencyLimits{MinMHz: 5, MaxMHz: 2500}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPlanSingleRequestWithinCapacity(t *testing.T) {
	want := desired(1000, 200, protocol.RBW1MHz)
	want.LNBPower = true

	got, err := Plan(want, wideLimits)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sub-request, got %d", len(got))
	}
	if got[0] != want {
		t.Fatalf("sub-request should equal desired: got %+v", got[0])
	}
}

func TestPlanSingleRequestClampedAtLowEdge(t *testing.T) {
	got, err := Plan(desired(50, 200, protocol.RBW1MHz), wideLimits)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sub-request, got %d", len(got))
	}
	// stop stays at 150, start moves to 5.
	if !approx(got[0].SpanMHz, 145) || !approx(got[0].CenterMHz, 77.5) {
		t.Fatalf("unexpected clamp: center=%v span=%v", got[0].CenterMHz, got[0].SpanMHz)
	}
}

func TestPlanSingleRequestClampedAtHighEdge(t *testing.T) {
	got, err := Plan(desired(2450, 300, protocol.RBW1MHz), wideLimits)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// start stays at 2300, stop moves to 2500.
	if !approx(got[0].SpanMHz, 200) || !approx(got[0].CenterMHz, 2400) {
		t.Fatalf("unexpected clamp: center=%v span=%v", got[0].CenterMHz, got[0].SpanMHz)
	}
}

func TestPlanCountBeforeClamping(t *testing.T) {
	tests := []struct {
		span float64
		rbw  protocol.ResolutionBandwidth
		want int
	}{
		{span: 320, rbw: protocol.RBW1MHz, want: 1},
		{span: 321, rbw: protocol.RBW1MHz, want: 2},
		{span: 640, rbw: protocol.RBW1MHz, want: 3},
		{span: 1000, rbw: protocol.RBW3MHz, want: 2},
		{span: 100, rbw: protocol.RBW100kHz, want: 4},
	}

	for _, tc := range tests {
		d := desired(1200, tc.span, tc.rbw)
		if got := Count(d); got != tc.want {
			t.Fatalf("span %v rbw %s: got %d want %d", tc.span, tc.rbw, got, tc.want)
		}
		plan, err := Plan(d, wideLimits)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if len(plan) != tc.want {
			t.Fatalf("span %v rbw %s: plan has %d entries, want %d", tc.span, tc.rbw, len(plan), tc.want)
		}
	}
}

func TestPlanFullRangeSweep(t *testing.T) {
	got, err := Plan(desired(1250, 2500, protocol.RBW1MHz), wideLimits)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("expected 8 sub-requests, got %d", len(got))
	}

	wantCenters := []float64{162.5, 480, 800, 1120, 1440, 1760, 2080, 2370}
	for i, sub := range got {
		if !approx(sub.CenterMHz, wantCenters[i]) {
			t.Fatalf("sub %d: center %v want %v", i, sub.CenterMHz, wantCenters[i])
		}
		if sub.StartMHz() < wideLimits.MinMHz-1e-9 || sub.StopMHz() > wideLimits.MaxMHz+1e-9 {
			t.Fatalf("sub %d out of bounds: %v..%v", i, sub.StartMHz(), sub.StopMHz())
		}
		if sub.RBW != protocol.RBW1MHz || sub.ReferenceLevel != protocol.ReferenceLevelMinus30 {
			t.Fatalf("sub %d lost copied fields: %+v", i, sub)
		}
	}
	if !approx(got[0].StartMHz(), 5) || !approx(got[len(got)-1].StopMHz(), 2500) {
		t.Fatalf("plan does not reach the device edges: %v..%v", got[0].StartMHz(), got[len(got)-1].StopMHz())
	}
}

func TestPlanCoversRequestedRangeWithoutGaps(t *testing.T) {
	tests := []struct {
		name   string
		req    protocol.SettingsRequest
		limits protocol.FrequencyLimits
	}{
		{name: "inside", req: desired(1200, 1000, protocol.RBW1MHz), limits: wideLimits},
		{name: "low edge", req: desired(100, 900, protocol.RBW1MHz), limits: wideLimits},
		{name: "high edge", req: desired(2400, 700, protocol.RBW300kHz), limits: wideLimits},
		{name: "both edges", req: desired(1000, 3000, protocol.RBW3MHz), limits: protocol.FrequencyLimits{MinMHz: 950, MaxMHz: 1450}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Plan(tc.req, tc.limits)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			lo := math.Max(tc.req.StartMHz(), tc.limits.MinMHz)
			hi := math.Min(tc.req.StopMHz(), tc.limits.MaxMHz)
			resolution := tc.req.RBW.MHz()

			if plan[0].StartMHz() > lo+resolution {
				t.Fatalf("gap at start: plan starts at %v, want <= %v", plan[0].StartMHz(), lo)
			}
			for i := 1; i < len(plan); i++ {
				if gap := plan[i].StartMHz() - plan[i-1].StopMHz(); gap > resolution {
					t.Fatalf("gap of %v MHz between sub %d and %d", gap, i-1, i)
				}
				if plan[i].CenterMHz <= plan[i-1].CenterMHz {
					t.Fatalf("plan not ascending at %d", i)
				}
			}
			if last := plan[len(plan)-1]; last.StopMHz() < hi-resolution {
				t.Fatalf("gap at stop: plan ends at %v, want >= %v", last.StopMHz(), hi)
			}
		})
	}
}

func TestPlanDropsSubRequestsOutsideBounds(t *testing.T) {
	got, err := Plan(desired(100, 1000, protocol.RBW1MHz), protocol.FrequencyLimits{MinMHz: 5, MaxMHz: 500})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if Count(desired(100, 1000, protocol.RBW1MHz)) != 4 {
		t.Fatalf("expected 4 candidates before clamping")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving sub-requests, got %d: %+v", len(got), got)
	}
	if !approx(got[0].StartMHz(), 5) || !approx(got[0].StopMHz(), 240) {
		t.Fatalf("first sub: %v..%v", got[0].StartMHz(), got[0].StopMHz())
	}
	if !approx(got[1].StartMHz(), 240) || !approx(got[1].StopMHz(), 500) {
		t.Fatalf("second sub: %v..%v", got[1].StartMHz(), got[1].StopMHz())
	}
}

func TestPlanErrors(t *testing.T) {
	if _, err := Plan(desired(4000, 100, protocol.RBW1MHz), wideLimits); !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("expected ErrEmptyPlan, got %v", err)
	}
	if _, err := Plan(desired(1000, -1, protocol.RBW1MHz), wideLimits); err == nil {
		t.Fatalf("expected error for negative span")
	}
	if _, err := Plan(desired(1000, 100, protocol.RBW1MHz), protocol.FrequencyLimits{MinMHz: 10, MaxMHz: 10}); err == nil {
		t.Fatalf("expected error for empty limits")
	}
	if _, err := Plan(desired(1000, 1e12, protocol.RBW1MHz), wideLimits); err == nil {
		t.Fatalf("expected error for a span beyond the encodable range")
	}
}

func TestPlanHugeSpanOnlyBuildsSubRequestsInsideLimits(t *testing.T) {
	d := desired(1250, 5e7, protocol.RBW3kHz)
	if Count(d) != 52083334 {
		t.Fatalf("unexpected pre-clamp count %d", Count(d))
	}

	got, err := Plan(d, wideLimits)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) < 2599 || len(got) > 2601 {
		t.Fatalf("expected about 2600 sub-requests inside the device range, got %d", len(got))
	}
	if !approx(got[0].StartMHz(), 5) || !approx(got[len(got)-1].StopMHz(), 2500) {
		t.Fatalf("plan does not reach the device edges: %v..%v", got[0].StartMHz(), got[len(got)-1].StopMHz())
	}
}

func TestWindowSelectsOverlappingIndices(t *testing.T) {
	tests := []struct {
		name      string
		req       protocol.SettingsRequest
		limits    protocol.FrequencyLimits
		wantFirst int
		wantLast  int
	}{
		{name: "full range", req: desired(1250, 2500, protocol.RBW1MHz), limits: wideLimits, wantFirst: 0, wantLast: 7},
		{name: "low side cut", req: desired(100, 1000, protocol.RBW1MHz), limits: protocol.FrequencyLimits{MinMHz: 5, MaxMHz: 500}, wantFirst: 1, wantLast: 2},
		{name: "outside", req: desired(4000, 1000, protocol.RBW1MHz), limits: wideLimits, wantFirst: 0, wantLast: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			first, last := window(tc.req, tc.limits)
			if first != tc.wantFirst || last != tc.wantLast {
				t.Fatalf("window = %d..%d, want %d..%d", first, last, tc.wantFirst, tc.wantLast)
			}
		})
	}
}
