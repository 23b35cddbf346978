// Package protocoltest builds device-side frames for tests and simulators.
package protocoltest

import (
	"encoding/binary"
	"math"

	"github.com/skobkin/avcomgo/internal/protocol"
)

// Frame wraps a type code and payload in STX/length/ETX.
func Frame(code byte, payload []byte) []byte {
	declared := 1 + len(payload)
	out := make([]byte, protocol.FrameSize(declared))
	out[0] = protocol.STX
	// #nosec G115 -- test payloads stay far below math.MaxUint16.
	binary.BigEndian.PutUint16(out[1:3], uint16(declared))
	out[3] = code
	copy(out[4:], payload)
	out[len(out)-1] = protocol.ETX

	return out
}

func putMHz(dst []byte, mhz float64) {
	binary.BigEndian.PutUint32(dst, uint32(math.Round(mhz*10000)))
}

// HardwareDescription encodes hd the way the firmware does.
func HardwareDescription(hd protocol.HardwareDescriptionResponse) []byte {
	p := make([]byte, 49)
	p[0] = byte(hd.Product)
	p[1] = hd.FirmwareMajor
	p[2] = hd.FirmwareMinor
	p[3] = byte(hd.PCBRevision)
	copy(p[4:20], hd.SerialNumber)
	putMHz(p[20:24], hd.MinFrequencyMHz)
	putMHz(p[24:28], hd.MaxFrequencyMHz)
	putMHz(p[28:32], hd.MinSpanMHz)
	putMHz(p[32:36], hd.MaxSpanMHz)
	putMHz(p[36:40], hd.SpanStepMHz)
	if !hd.CalibrationDate.IsZero() {
		p[40] = byte(hd.CalibrationDate.Day())
		p[41] = byte(hd.CalibrationDate.Month())
		p[42] = byte(hd.CalibrationDate.Year() - 2000)
	}
	p[43] = byte(hd.TemperatureC)
	p[44] = byte(hd.MinTemperatureC)
	p[45] = byte(hd.MaxTemperatureC)
	if hd.LNBPowerSupported {
		p[46] = 0x01
	}
	p[47] = byte(hd.LNBPower)
	p[48] = hd.AvailableRBWMask

	return Frame(protocol.MessageHardwareDescriptionResponse.Code(), p)
}

// Waveform encodes an 8-bit waveform response.
func Waveform(w protocol.Waveform8BitResponse) []byte {
	p := make([]byte, protocol.SamplesPerWaveform+12)
	copy(p, w.Samples[:])
	meta := p[protocol.SamplesPerWaveform:]
	meta[0] = byte(w.Product)
	putMHz(meta[1:5], w.CenterMHz)
	putMHz(meta[5:9], w.SpanMHz)
	meta[9] = byte(w.ReferenceLevel)
	meta[10] = byte(w.RBW)
	meta[11] = byte(w.Input)

	return Frame(protocol.MessageWaveform8BitResponse.Code(), p)
}

// WaveformFor answers a settings request with a flat trace at level.
func WaveformFor(product protocol.ProductID, s protocol.SettingsRequest, level byte) protocol.Waveform8BitResponse {
	w := protocol.Waveform8BitResponse{
		Product:        product,
		CenterMHz:      s.CenterMHz,
		SpanMHz:        s.SpanMHz,
		ReferenceLevel: s.ReferenceLevel,
		RBW:            s.RBW,
		Input:          s.Input,
	}
	for i := range w.Samples {
		w.Samples[i] = level
	}
	w.Saturated = level > protocol.SaturationThreshold

	return w
}

// Error encodes a device error response.
func Error(text string) []byte {
	return Frame(protocol.MessageErrorResponse.Code(), []byte(text))
}

// Device returns a plausible RSA-2500 description with the given bounds.
func Device(minMHz, maxMHz float64) protocol.HardwareDescriptionResponse {
	return protocol.HardwareDescriptionResponse{
		Product:           protocol.ProductRSA2500,
		FirmwareMajor:     2,
		FirmwareMinor:     14,
		PCBRevision:       protocol.PCBRevisionC,
		SerialNumber:      "A2500-000123",
		MinFrequencyMHz:   minMHz,
		MaxFrequencyMHz:   maxMHz,
		MinSpanMHz:        0,
		MaxSpanMHz:        maxMHz - minMHz,
		SpanStepMHz:       0.1,
		TemperatureC:      31,
		MinTemperatureC:   18,
		MaxTemperatureC:   44,
		LNBPowerSupported: true,
		LNBPower:          protocol.LNBPowerOff,
		AvailableRBWMask:  byte(protocol.RBW3MHz | protocol.RBW1MHz | protocol.RBW300kHz | protocol.RBW100kHz),
		AvailableBandwidths: []protocol.ResolutionBandwidth{
			protocol.RBW3MHz, protocol.RBW1MHz, protocol.RBW300kHz, protocol.RBW100kHz,
		},
	}
}
