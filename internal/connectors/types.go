package connectors

import "time"

// SessionState mirrors the analyzer session lifecycle for bus subscribers.
type SessionState string

const (
	SessionStateUninitialized SessionState = "uninitialized"
	SessionStateInitializing  SessionState = "initializing"
	SessionStateReady         SessionState = "ready"
	SessionStateScanning      SessionState = "scanning"
	SessionStateStopped       SessionState = "stopped"
)

// SessionStatus is a bus event snapshot of the session state.
type SessionStatus struct {
	State         SessionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	Outgoing bool
	Hex      string
	Len      int
}

// HardwareInfo is published once the analyzer answered the identity request.
type HardwareInfo struct {
	Product  string
	Firmware string
	Serial   string
	Snapshot map[string]string
}

// TraceSummary describes a completed sweep without the sample data.
type TraceSummary struct {
	CenterMHz    float64
	SpanMHz      float64
	Points       int
	SubResponses int
	Saturated    bool
	Elapsed      time.Duration
	CompletedAt  time.Time
}

// DeviceError is an error datagram reported by the analyzer.
type DeviceError struct {
	Text      string
	Timestamp time.Time
}

// TransportError is a failed read or write on the session transport.
type TransportError struct {
	Op        string
	Err       string
	Timestamp time.Time
}
