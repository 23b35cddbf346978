// Package planner splits a wideband sweep into sub-requests that each fit in
// one hardware waveform.
package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/skobkin/avcomgo/internal/protocol"
)

// centerKeyScale matches the wire resolution, so two sub-requests that would
// encode to the same center are the same key.
const centerKeyScale = 10000

var ErrEmptyPlan = errors.New("sweep lies outside device frequency range")

// Capacity is the widest span one waveform covers at rbw.
func Capacity(rbw protocol.ResolutionBandwidth) float64 {
	return protocol.SamplesPerWaveform * rbw.MHz()
}

// Count is the number of sub-requests generated before clamping.
func Count(desired protocol.SettingsRequest) int {
	capacity := Capacity(desired.RBW)
	if capacity <= 0 || desired.SpanMHz <= capacity {
		return 1
	}

	return int(math.Floor(desired.SpanMHz/capacity)) + 1
}

// Plan returns the sub-requests for desired, ordered by ascending center
// frequency with one entry per center.
func Plan(desired protocol.SettingsRequest, limits protocol.FrequencyLimits) ([]protocol.SettingsRequest, error) {
	if err := desired.Validate(); err != nil {
		return nil, fmt.Errorf("plan sweep: %w", err)
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("plan sweep: %w", err)
	}

	capacity := Capacity(desired.RBW)
	var candidates []protocol.SettingsRequest
	if desired.SpanMHz <= capacity {
		candidates = append(candidates, desired)
	} else {
		first, last := window(desired, limits)
		start := desired.StartMHz()
		for i := first; i <= last; i++ {
			sub := desired
			sub.CenterMHz = capacity*(float64(i)+0.5) + start
			sub.SpanMHz = capacity
			candidates = append(candidates, sub)
		}
	}

	byCenter := make(map[int64]protocol.SettingsRequest, len(candidates))
	for _, c := range candidates {
		clamped, ok := Clamp(c, limits)
		if !ok {
			continue
		}
		byCenter[centerKey(clamped.CenterMHz)] = clamped
	}
	if len(byCenter) == 0 {
		return nil, ErrEmptyPlan
	}

	out := make([]protocol.SettingsRequest, 0, len(byCenter))
	for _, sub := range byCenter {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CenterMHz < out[j].CenterMHz })

	return out, nil
}

// Clamp shifts a sub-request so that it stays inside limits. The edge that
// crosses a bound is pulled in and the span shrinks by the same amount. It
// reports false when nothing of the request is left inside the device range.
func Clamp(sub protocol.SettingsRequest, limits protocol.FrequencyLimits) (protocol.SettingsRequest, bool) {
	start, stop := sub.StartMHz(), sub.StopMHz()
	if stop <= limits.MinMHz || start >= limits.MaxMHz {
		return sub, false
	}
	if start < limits.MinMHz {
		start = limits.MinMHz
	}
	if stop > limits.MaxMHz {
		stop = limits.MaxMHz
	}

	sub.SpanMHz = stop - start
	sub.CenterMHz = start + sub.SpanMHz/2

	return sub, true
}

// window returns the indices of the sub-requests that overlap limits. The
// others would be dropped by Clamp, so they are never built.
func window(desired protocol.SettingsRequest, limits protocol.FrequencyLimits) (int, int) {
	capacity := Capacity(desired.RBW)
	start := desired.StartMHz()
	last := float64(Count(desired) - 1)

	lo := math.Max(0, math.Floor((limits.MinMHz-start)/capacity))
	hi := math.Min(last, math.Ceil((limits.MaxMHz-start)/capacity)-1)
	if hi < lo {
		return 0, -1
	}

	return int(lo), int(hi)
}

func centerKey(mhz float64) int64 {
	return int64(math.Round(mhz * centerKeyScale))
}
