package connectors

const (
	TopicSessionState = "session.state"
	TopicTrace        = "session.trace"
	TopicDeviceError  = "device.error"
	TopicTransportErr = "transport.error"
	TopicHardware     = "device.hardware"
	TopicRawFrameIn   = "raw.frame.in"
	TopicRawFrameOut  = "raw.frame.out"
)
