package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	STX byte = 0x02
	ETX byte = 0x03

	HeaderLen  = 3
	TrailerLen = 1
	// FrameOverhead is the byte count not covered by the length field.
	FrameOverhead = HeaderLen + TrailerLen

	typeOffset    = 3
	payloadOffset = 4
)

const (
	settingsPayloadLen            = 12
	hardwareDescriptionPayloadLen = 49
	waveformPayloadLen            = SamplesPerWaveform + 12
	serialNumberLen               = 16
	lnbCapabilityBit              = 0x01
)

// FrameSize returns the total wire size for a declared length field.
func FrameSize(declared int) int {
	return declared + FrameOverhead
}

// DeclaredLength reads the big-endian length field from a frame header.
func DeclaredLength(header []byte) (int, error) {
	if len(header) < HeaderLen {
		return 0, fmt.Errorf("%w: short header: %d bytes", ErrFrameLength, len(header))
	}
	if header[0] != STX {
		return 0, fmt.Errorf("%w: missing STX, got 0x%02X", ErrMalformedPayload, header[0])
	}

	return int(binary.BigEndian.Uint16(header[1:HeaderLen])), nil
}

// Encode serializes a request datagram. It is pure and deterministic.
func Encode(req Request) ([]byte, error) {
	switch r := req.(type) {
	case HardwareDescriptionRequest:
		return newFrame(r.Type(), 0)
	case *HardwareDescriptionRequest:
		return newFrame(r.Type(), 0)
	case WaveformRequest:
		return newFrame(r.Type(), 0)
	case *WaveformRequest:
		return newFrame(r.Type(), 0)
	case SettingsRequest:
		return encodeSettings(r)
	case *SettingsRequest:
		if r == nil {
			return nil, fmt.Errorf("encode settings: nil request")
		}
		return encodeSettings(*r)
	case nil:
		return nil, fmt.Errorf("encode: nil request")
	default:
		return nil, fmt.Errorf("encode: unsupported request type %T", req)
	}
}

func encodeSettings(s SettingsRequest) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	frame, err := newFrame(s.Type(), settingsPayloadLen)
	if err != nil {
		return nil, err
	}
	p := frame[payloadOffset:]
	if err := putMHz(p[0:4], s.CenterMHz); err != nil {
		return nil, fmt.Errorf("encode settings center: %w", err)
	}
	if err := putMHz(p[4:8], s.SpanMHz); err != nil {
		return nil, fmt.Errorf("encode settings span: %w", err)
	}
	p[8] = byte(s.ReferenceLevel)
	p[9] = byte(s.RBW)
	p[10] = byte(s.Input)
	if s.LNBPower {
		p[11] = 1
	}

	return frame, nil
}

// newFrame allocates a frame with header, type byte and trailer filled in.
func newFrame(t MessageType, payloadLen int) ([]byte, error) {
	declared := 1 + payloadLen
	if declared > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", payloadLen)
	}
	frame := make([]byte, FrameSize(declared))
	frame[0] = STX
	// #nosec G115 -- bounded by math.MaxUint16 above.
	binary.BigEndian.PutUint16(frame[1:HeaderLen], uint16(declared))
	frame[typeOffset] = t.Code()
	frame[len(frame)-1] = ETX

	return frame, nil
}

// checkFrame validates header, declared length and trailer and returns the
// payload slice.
func checkFrame(frame []byte) ([]byte, error) {
	if len(frame) < FrameSize(1) {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrFrameLength, len(frame))
	}
	declared, err := DeclaredLength(frame)
	if err != nil {
		return nil, err
	}
	if FrameSize(declared) != len(frame) {
		return nil, fmt.Errorf("%w: declared %d, frame has %d bytes", ErrFrameLength, declared, len(frame))
	}
	if frame[len(frame)-1] != ETX {
		return nil, fmt.Errorf("%w: missing ETX, got 0x%02X", ErrMalformedPayload, frame[len(frame)-1])
	}

	return frame[payloadOffset : len(frame)-TrailerLen], nil
}

// Decode parses a device-originated frame.
func Decode(frame []byte) (Datagram, error) {
	payload, err := checkFrame(frame)
	if err != nil {
		return nil, err
	}
	t, ok := LookupMessageType(DirectionResponse, frame[typeOffset])
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedType, frame[typeOffset])
	}

	switch t {
	case MessageHardwareDescriptionResponse:
		return decodeHardwareDescription(payload)
	case MessageWaveform8BitResponse:
		return decodeWaveform8Bit(payload)
	case MessageErrorResponse:
		return ErrorResponse{Text: readFixedString(payload)}, nil
	case MessageWaveform12BitResponse:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedType, frame[typeOffset])
	}
}

// DecodeRequest parses a host-originated frame. The device never sends these;
// it exists for link sniffing and simulation.
func DecodeRequest(frame []byte) (Request, error) {
	payload, err := checkFrame(frame)
	if err != nil {
		return nil, err
	}
	t, ok := LookupMessageType(DirectionRequest, frame[typeOffset])
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedType, frame[typeOffset])
	}

	switch t {
	case MessageHardwareDescriptionRequest:
		return HardwareDescriptionRequest{}, nil
	case MessageWaveformRequest:
		if len(payload) > 0 && payload[0] == Waveform12BitMarker {
			return nil, fmt.Errorf("%w: 12-bit waveform request", ErrUnsupported)
		}
		return WaveformRequest{}, nil
	case MessageSettingsRequest:
		return decodeSettings(payload)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedType, frame[typeOffset])
	}
}

func decodeSettings(p []byte) (SettingsRequest, error) {
	if len(p) < settingsPayloadLen {
		return SettingsRequest{}, fmt.Errorf("%w: settings payload %d bytes, want %d", ErrFrameLength, len(p), settingsPayloadLen)
	}
	rl, err := ParseReferenceLevel(p[8])
	if err != nil {
		return SettingsRequest{}, err
	}
	rbw, err := ParseResolutionBandwidth(p[9])
	if err != nil {
		return SettingsRequest{}, err
	}
	in, err := ParseInputConnector(p[10])
	if err != nil {
		return SettingsRequest{}, err
	}

	return SettingsRequest{
		CenterMHz:      readMHz(p[0:4]),
		SpanMHz:        readMHz(p[4:8]),
		ReferenceLevel: rl,
		RBW:            rbw,
		Input:          in,
		LNBPower:       p[11] != 0,
	}, nil
}

func decodeHardwareDescription(p []byte) (HardwareDescriptionResponse, error) {
	if len(p) < hardwareDescriptionPayloadLen {
		return HardwareDescriptionResponse{}, fmt.Errorf("%w: hardware description payload %d bytes, want %d", ErrFrameLength, len(p), hardwareDescriptionPayloadLen)
	}

	hd := HardwareDescriptionResponse{
		Product:           ProductID(p[0]),
		FirmwareMajor:     p[1],
		FirmwareMinor:     p[2],
		PCBRevision:       PCBRevision(p[3]),
		SerialNumber:      readFixedString(p[4 : 4+serialNumberLen]),
		MinFrequencyMHz:   readMHz(p[20:24]),
		MaxFrequencyMHz:   readMHz(p[24:28]),
		MinSpanMHz:        readMHz(p[28:32]),
		MaxSpanMHz:        readMHz(p[32:36]),
		SpanStepMHz:       readMHz(p[36:40]),
		TemperatureC:      int8(p[43]),
		MinTemperatureC:   int8(p[44]),
		MaxTemperatureC:   int8(p[45]),
		LNBPowerSupported: p[46]&lnbCapabilityBit != 0,
		LNBPower:          LNBPower(p[47]),
		AvailableRBWMask:  p[48],
	}
	hd.AvailableBandwidths = ResolutionBandwidthsFromMask(hd.AvailableRBWMask)
	if day, month := int(p[40]), int(p[41]); day >= 1 && day <= 31 && month >= 1 && month <= 12 {
		hd.CalibrationDate = time.Date(2000+int(p[42]), time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	if hd.MaxFrequencyMHz <= hd.MinFrequencyMHz {
		return HardwareDescriptionResponse{}, fmt.Errorf("%w: frequency bounds %g..%g", ErrMalformedPayload, hd.MinFrequencyMHz, hd.MaxFrequencyMHz)
	}

	return hd, nil
}

func decodeWaveform8Bit(p []byte) (Waveform8BitResponse, error) {
	if len(p) < waveformPayloadLen {
		return Waveform8BitResponse{}, fmt.Errorf("%w: waveform payload %d bytes, want %d", ErrFrameLength, len(p), waveformPayloadLen)
	}
	meta := p[SamplesPerWaveform:]
	rl, err := ParseReferenceLevel(meta[9])
	if err != nil {
		return Waveform8BitResponse{}, err
	}
	rbw, err := ParseResolutionBandwidth(meta[10])
	if err != nil {
		return Waveform8BitResponse{}, err
	}
	in, err := ParseInputConnector(meta[11])
	if err != nil {
		return Waveform8BitResponse{}, err
	}

	w := Waveform8BitResponse{
		Product:        ProductID(meta[0]),
		CenterMHz:      readMHz(meta[1:5]),
		SpanMHz:        readMHz(meta[5:9]),
		ReferenceLevel: rl,
		RBW:            rbw,
		Input:          in,
		Saturated:      isSaturated(p[:SamplesPerWaveform]),
	}
	copy(w.Samples[:], p[:SamplesPerWaveform])

	return w, nil
}
