package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

// SamplesPerWaveform is the fixed sample count of one 8-bit waveform.
const SamplesPerWaveform = 320

// SaturationThreshold is the largest sample byte that is not considered
// clipped.
const SaturationThreshold = 225

// dbPerCount is the power step of one sample count.
const dbPerCount = 0.20

// Datagram is any decoded protocol message.
type Datagram interface {
	Type() MessageType
}

// Request is a host-originated datagram that Encode accepts.
type Request interface {
	Datagram
	isRequest()
}

// HardwareDescriptionRequest asks the device to describe itself.
type HardwareDescriptionRequest struct{}

func (HardwareDescriptionRequest) Type() MessageType { return MessageHardwareDescriptionRequest }
func (HardwareDescriptionRequest) isRequest()        {}

// WaveformRequest asks for one 8-bit waveform with the current settings.
type WaveformRequest struct{}

func (WaveformRequest) Type() MessageType { return MessageWaveformRequest }
func (WaveformRequest) isRequest()        {}

// SettingsRequest is the desired device configuration. It is a value type:
// the planner copies it for every sub-request.
type SettingsRequest struct {
	CenterMHz      float64
	SpanMHz        float64
	ReferenceLevel ReferenceLevel
	RBW            ResolutionBandwidth
	Input          InputConnector
	LNBPower       bool
}

func (SettingsRequest) Type() MessageType { return MessageSettingsRequest }
func (SettingsRequest) isRequest()        {}

func (s SettingsRequest) StartMHz() float64 {
	return s.CenterMHz - s.SpanMHz/2
}

func (s SettingsRequest) StopMHz() float64 {
	return s.CenterMHz + s.SpanMHz/2
}

func (s SettingsRequest) Validate() error {
	if math.IsNaN(s.CenterMHz) || s.CenterMHz <= 0 {
		return fmt.Errorf("center frequency must be positive: %g", s.CenterMHz)
	}
	if math.IsNaN(s.SpanMHz) || s.SpanMHz < 0 {
		return fmt.Errorf("span must not be negative: %g", s.SpanMHz)
	}
	if s.CenterMHz > maxEncodableMHz || s.SpanMHz > maxEncodableMHz {
		return fmt.Errorf("frequency out of encodable range: center=%g span=%g", s.CenterMHz, s.SpanMHz)
	}
	if !s.ReferenceLevel.Valid() {
		return fmt.Errorf("invalid reference level: %s", s.ReferenceLevel)
	}
	if s.RBW.MHz() == 0 {
		return fmt.Errorf("invalid resolution bandwidth: %s", s.RBW)
	}
	if !s.Input.Valid() {
		return fmt.Errorf("invalid input connector: %s", s.Input)
	}

	return nil
}

func (s SettingsRequest) String() string {
	return fmt.Sprintf("center=%.4fMHz span=%.4fMHz rl=%s rbw=%s input=%s", s.CenterMHz, s.SpanMHz, s.ReferenceLevel, s.RBW, s.Input)
}

// FrequencyLimits are the tunable bounds of a device.
type FrequencyLimits struct {
	MinMHz float64
	MaxMHz float64
}

func (l FrequencyLimits) Validate() error {
	if l.MinMHz < 0 || l.MaxMHz <= l.MinMHz {
		return errors.New("frequency limits must satisfy 0 <= min < max")
	}

	return nil
}

// HardwareDescriptionResponse is the immutable identity and capability
// snapshot returned once per session.
type HardwareDescriptionResponse struct {
	Product             ProductID
	FirmwareMajor       uint8
	FirmwareMinor       uint8
	PCBRevision         PCBRevision
	SerialNumber        string
	MinFrequencyMHz     float64
	MaxFrequencyMHz     float64
	MinSpanMHz          float64
	MaxSpanMHz          float64
	SpanStepMHz         float64
	CalibrationDate     time.Time
	TemperatureC        int8
	MinTemperatureC     int8
	MaxTemperatureC     int8
	LNBPowerSupported   bool
	LNBPower            LNBPower
	AvailableRBWMask    byte
	AvailableBandwidths []ResolutionBandwidth
}

func (HardwareDescriptionResponse) Type() MessageType { return MessageHardwareDescriptionResponse }

func (h HardwareDescriptionResponse) Limits() FrequencyLimits {
	return FrequencyLimits{MinMHz: h.MinFrequencyMHz, MaxMHz: h.MaxFrequencyMHz}
}

// FirmwareVersion renders the firmware as a semantic version string.
func (h HardwareDescriptionResponse) FirmwareVersion() string {
	return fmt.Sprintf("v%d.%d.0", h.FirmwareMajor, h.FirmwareMinor)
}

// FirmwareAtLeast reports whether the firmware is not older than min, which
// may omit the leading "v".
func (h HardwareDescriptionResponse) FirmwareAtLeast(min string) bool {
	if len(min) == 0 || min[0] != 'v' {
		min = "v" + min
	}
	if !semver.IsValid(min) {
		return false
	}

	return semver.Compare(h.FirmwareVersion(), min) >= 0
}

// Snapshot is a read-only key/value view for operational tooling.
func (h HardwareDescriptionResponse) Snapshot() map[string]string {
	out := map[string]string{
		"product":             h.Product.String(),
		"firmware":            h.FirmwareVersion(),
		"pcb_revision":        h.PCBRevision.String(),
		"serial_number":       h.SerialNumber,
		"min_frequency_mhz":   formatMHz(h.MinFrequencyMHz),
		"max_frequency_mhz":   formatMHz(h.MaxFrequencyMHz),
		"min_span_mhz":        formatMHz(h.MinSpanMHz),
		"max_span_mhz":        formatMHz(h.MaxSpanMHz),
		"span_step_mhz":       formatMHz(h.SpanStepMHz),
		"temperature_c":       strconv.Itoa(int(h.TemperatureC)),
		"min_temperature_c":   strconv.Itoa(int(h.MinTemperatureC)),
		"max_temperature_c":   strconv.Itoa(int(h.MaxTemperatureC)),
		"lnb_power_supported": strconv.FormatBool(h.LNBPowerSupported),
		"lnb_power":           h.LNBPower.String(),
	}
	if !h.CalibrationDate.IsZero() {
		out["calibration_date"] = h.CalibrationDate.Format("2006-01-02")
	}

	return out
}

func formatMHz(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Waveform8BitResponse is one device-produced 320-point sample.
type Waveform8BitResponse struct {
	Product        ProductID
	CenterMHz      float64
	SpanMHz        float64
	ReferenceLevel ReferenceLevel
	RBW            ResolutionBandwidth
	Input          InputConnector
	Saturated      bool
	Samples        [SamplesPerWaveform]byte
	// Elapsed is the request/response round trip, filled by the session.
	Elapsed time.Duration
}

func (Waveform8BitResponse) Type() MessageType { return MessageWaveform8BitResponse }

// Power returns sample i in dBm.
func (w Waveform8BitResponse) Power(i int) float64 {
	return dbPerCount*float64(w.Samples[i]) + w.ReferenceLevel.Offset()
}

// FrequencyMHz returns the frequency of sample i.
func (w Waveform8BitResponse) FrequencyMHz(i int) float64 {
	return float64(i)*(w.SpanMHz/SamplesPerWaveform) + (w.CenterMHz - w.SpanMHz/2)
}

func isSaturated(samples []byte) bool {
	for _, s := range samples {
		if s > SaturationThreshold {
			return true
		}
	}

	return false
}

// ErrorResponse is device-reported error text.
type ErrorResponse struct {
	Text string
}

func (ErrorResponse) Type() MessageType { return MessageErrorResponse }

func (e ErrorResponse) Error() string {
	return "device error: " + e.Text
}
