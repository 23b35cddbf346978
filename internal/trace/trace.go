// Package trace assembles waveform sub-responses into one composite sweep.
package trace

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/skobkin/avcomgo/internal/protocol"
)

// ErrConfigMismatch means two sub-responses of one sweep were taken with
// different device settings. Only the current trace is affected.
var ErrConfigMismatch = errors.New("sub-response configuration mismatch")

// frequencyKeyScale buckets frequencies at 1 Hz so edge samples of adjacent
// sub-responses collide instead of differing in the last float bit.
const frequencyKeyScale = 1e6

// Point is one frequency/power pair.
type Point struct {
	FrequencyMHz float64
	PowerDBm     float64
}

// Trace is the composite result of one sweep. Center and span are derived
// from the merged frequencies on every call.
type Trace struct {
	Requested      protocol.SettingsRequest
	ReferenceLevel protocol.ReferenceLevel
	RBW            protocol.ResolutionBandwidth
	Product        protocol.ProductID
	Saturated      bool
	Elapsed        time.Duration
	StartedAt      time.Time
	CompletedAt    time.Time

	configured bool
	subCount   int
	points     map[int64]float64
}

// Begin starts an empty trace for desired.
func Begin(desired protocol.SettingsRequest) *Trace {
	return &Trace{
		Requested: desired,
		StartedAt: time.Now(),
		points:    make(map[int64]float64, protocol.SamplesPerWaveform),
	}
}

// Add merges one sub-response. The first call fixes reference level,
// resolution bandwidth and product; later calls must agree with them.
func (t *Trace) Add(sub protocol.Waveform8BitResponse) error {
	if !t.configured {
		t.ReferenceLevel = sub.ReferenceLevel
		t.RBW = sub.RBW
		t.Product = sub.Product
		t.configured = true
	} else {
		switch {
		case sub.ReferenceLevel != t.ReferenceLevel:
			return fmt.Errorf("%w: reference level %s, trace has %s", ErrConfigMismatch, sub.ReferenceLevel, t.ReferenceLevel)
		case sub.RBW != t.RBW:
			return fmt.Errorf("%w: resolution bandwidth %s, trace has %s", ErrConfigMismatch, sub.RBW, t.RBW)
		case sub.Product != t.Product:
			return fmt.Errorf("%w: product %s, trace has %s", ErrConfigMismatch, sub.Product, t.Product)
		}
	}

	if t.points == nil {
		t.points = make(map[int64]float64, protocol.SamplesPerWaveform)
	}
	for i := 0; i < protocol.SamplesPerWaveform; i++ {
		t.points[frequencyKey(sub.FrequencyMHz(i))] = sub.Power(i)
	}
	t.Saturated = t.Saturated || sub.Saturated
	t.Elapsed += sub.Elapsed
	t.subCount++

	return nil
}

// Len is the number of distinct frequencies merged so far.
func (t *Trace) Len() int {
	return len(t.points)
}

// SubResponses is the number of sub-responses merged so far.
func (t *Trace) SubResponses() int {
	return t.subCount
}

func (t *Trace) Empty() bool {
	return len(t.points) == 0
}

// MinMHz and MaxMHz return the lowest and highest merged frequency.
func (t *Trace) MinMHz() float64 {
	lo, _ := t.bounds()
	return lo
}

func (t *Trace) MaxMHz() float64 {
	_, hi := t.bounds()
	return hi
}

func (t *Trace) SpanMHz() float64 {
	lo, hi := t.bounds()
	return hi - lo
}

func (t *Trace) CenterMHz() float64 {
	lo, hi := t.bounds()
	return lo + (hi-lo)/2
}

// Points returns the merged samples ordered by frequency.
func (t *Trace) Points() []Point {
	keys := make([]int64, 0, len(t.points))
	for k := range t.points {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Point, len(keys))
	for i, k := range keys {
		out[i] = Point{FrequencyMHz: float64(k) / frequencyKeyScale, PowerDBm: t.points[k]}
	}

	return out
}

// PowerAt returns the power merged at exactly mhz.
func (t *Trace) PowerAt(mhz float64) (float64, bool) {
	p, ok := t.points[frequencyKey(mhz)]
	return p, ok
}

func (t *Trace) bounds() (float64, float64) {
	if len(t.points) == 0 {
		return 0, 0
	}
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	for k := range t.points {
		lo = min(lo, k)
		hi = max(hi, k)
	}

	return float64(lo) / frequencyKeyScale, float64(hi) / frequencyKeyScale
}

func frequencyKey(mhz float64) int64 {
	return int64(math.Round(mhz * frequencyKeyScale))
}
