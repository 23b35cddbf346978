package protocol

import "fmt"

// Direction tells which side of the link produced a datagram.
type Direction int

const (
	DirectionRequest Direction = iota + 1
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	}

	return fmt.Sprintf("Direction(%d)", int(d))
}

// MessageType identifies the semantic kind of a datagram. Wire codes are not
// unique across directions, so a type is always resolved together with its
// direction.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageHardwareDescriptionRequest
	MessageHardwareDescriptionResponse
	MessageSettingsRequest
	MessageWaveformRequest
	MessageWaveform8BitResponse
	MessageWaveform12BitResponse
	MessageErrorResponse
)

const (
	codeHardwareDescriptionRequest       byte = 0x01
	codeHardwareDescriptionRequestLegacy byte = 0x07
	codeHardwareDescriptionResponse      byte = 0x07
	codeSettingsRequest                  byte = 0x04
	codeWaveformRequest                  byte = 0x03
	codeWaveform8BitResponse             byte = 0x09
	codeWaveform12BitResponse            byte = 0x0D
	codeErrorResponse                    byte = 0x60

	// Waveform12BitMarker is the payload byte that asks for the 12-bit
	// waveform variant.
	Waveform12BitMarker byte = 0x05
)

// Code returns the wire byte written for t.
func (t MessageType) Code() byte {
	switch t {
	case MessageHardwareDescriptionRequest:
		return codeHardwareDescriptionRequest
	case MessageHardwareDescriptionResponse:
		return codeHardwareDescriptionResponse
	case MessageSettingsRequest:
		return codeSettingsRequest
	case MessageWaveformRequest:
		return codeWaveformRequest
	case MessageWaveform8BitResponse:
		return codeWaveform8BitResponse
	case MessageWaveform12BitResponse:
		return codeWaveform12BitResponse
	case MessageErrorResponse:
		return codeErrorResponse
	}

	return 0
}

func (t MessageType) Direction() Direction {
	switch t {
	case MessageHardwareDescriptionRequest, MessageSettingsRequest, MessageWaveformRequest:
		return DirectionRequest
	case MessageHardwareDescriptionResponse, MessageWaveform8BitResponse, MessageWaveform12BitResponse, MessageErrorResponse:
		return DirectionResponse
	}

	return 0
}

func (t MessageType) String() string {
	switch t {
	case MessageHardwareDescriptionRequest:
		return "HardwareDescriptionRequest"
	case MessageHardwareDescriptionResponse:
		return "HardwareDescriptionResponse"
	case MessageSettingsRequest:
		return "SettingsRequest"
	case MessageWaveformRequest:
		return "WaveformRequest"
	case MessageWaveform8BitResponse:
		return "Waveform8BitResponse"
	case MessageWaveform12BitResponse:
		return "Waveform12BitResponse"
	case MessageErrorResponse:
		return "ErrorResponse"
	case MessageUnknown:
		return "Unknown"
	}

	return fmt.Sprintf("MessageType(%d)", int(t))
}

// LookupMessageType resolves a wire code for the given direction. Requests are
// never produced by the device, so the shared hardware description code 0x07
// means a response unless the caller is decoding host-originated traffic.
func LookupMessageType(dir Direction, code byte) (MessageType, bool) {
	switch dir {
	case DirectionRequest:
		switch code {
		case codeHardwareDescriptionRequest, codeHardwareDescriptionRequestLegacy:
			return MessageHardwareDescriptionRequest, true
		case codeSettingsRequest:
			return MessageSettingsRequest, true
		case codeWaveformRequest:
			return MessageWaveformRequest, true
		}
	case DirectionResponse:
		switch code {
		case codeHardwareDescriptionResponse:
			return MessageHardwareDescriptionResponse, true
		case codeWaveform8BitResponse:
			return MessageWaveform8BitResponse, true
		case codeWaveform12BitResponse:
			return MessageWaveform12BitResponse, true
		case codeErrorResponse:
			return MessageErrorResponse, true
		}
	}

	return MessageUnknown, false
}
