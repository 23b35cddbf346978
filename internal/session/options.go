package session

import "time"

// Timeouts bound the single read that follows each request type.
type Timeouts struct {
	// Settings is how long to listen for a reply to a settings datagram.
	// The analyzer normally sends none, so zero skips the read.
	Settings            time.Duration
	Waveform            time.Duration
	HardwareDescription time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Settings:            0,
		Waveform:            time.Second,
		HardwareDescription: time.Second,
	}
}

type Options struct {
	Timeouts     Timeouts
	SettleDelay  time.Duration
	InitAttempts int
	InitInterval time.Duration
	// MinFirmware is logged against when the analyzer reports older firmware.
	MinFirmware   string
	ListenerGrace time.Duration
	ListenerQueue int
}

func DefaultOptions() Options {
	return Options{
		Timeouts:      DefaultTimeouts(),
		SettleDelay:   50 * time.Millisecond,
		InitAttempts:  5,
		InitInterval:  time.Second,
		MinFirmware:   "v2.0.0",
		ListenerGrace: 500 * time.Millisecond,
		ListenerQueue: 4,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Timeouts.Waveform <= 0 {
		o.Timeouts.Waveform = def.Timeouts.Waveform
	}
	if o.Timeouts.HardwareDescription <= 0 {
		o.Timeouts.HardwareDescription = def.Timeouts.HardwareDescription
	}
	if o.Timeouts.Settings < 0 {
		o.Timeouts.Settings = 0
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.InitAttempts <= 0 {
		o.InitAttempts = def.InitAttempts
	}
	if o.InitInterval < 0 {
		o.InitInterval = 0
	}
	if o.ListenerGrace <= 0 {
		o.ListenerGrace = def.ListenerGrace
	}
	if o.ListenerQueue <= 0 {
		o.ListenerQueue = def.ListenerQueue
	}

	return o
}
