package session

import (
	"context"
	"sync"

	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/protocol/protocoltest"
)

// fakeAnalyzer answers requests the way the firmware does. Hooks run on the
// goroutine that writes the request.
type fakeAnalyzer struct {
	hw protocol.HardwareDescriptionResponse

	mu         sync.Mutex
	settings   protocol.SettingsRequest
	hwRequests int
	hwAnswerAt int
	waveforms  []protocol.SettingsRequest
	onWaveform func(n int, s protocol.SettingsRequest) [][]byte
	writeErr   error
	out        chan []byte
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		hw:         protocoltest.Device(5, 2500),
		hwAnswerAt: 1,
		out:        make(chan []byte, 64),
	}
}

func (f *fakeAnalyzer) Name() string                      { return "fake" }
func (f *fakeAnalyzer) Connect(ctx context.Context) error { return nil }
func (f *fakeAnalyzer) Close() error                      { return nil }

func (f *fakeAnalyzer) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-f.out:
		return chunk, nil
	}
}

func (f *fakeAnalyzer) Write(ctx context.Context, p []byte) error {
	req, err := protocol.DecodeRequest(p)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	var replies [][]byte
	var hook func(int, protocol.SettingsRequest) [][]byte
	var n int
	var current protocol.SettingsRequest
	switch r := req.(type) {
	case protocol.HardwareDescriptionRequest:
		f.hwRequests++
		if f.hwAnswerAt > 0 && f.hwRequests >= f.hwAnswerAt {
			replies = append(replies, protocoltest.HardwareDescription(f.hw))
		}
	case protocol.SettingsRequest:
		f.settings = r
	case protocol.WaveformRequest:
		f.waveforms = append(f.waveforms, f.settings)
		n = len(f.waveforms)
		current = f.settings
		hook = f.onWaveform
		if hook == nil {
			replies = append(replies, protocoltest.Waveform(protocoltest.WaveformFor(f.hw.Product, f.settings, 100)))
		}
	}
	f.mu.Unlock()

	if hook != nil {
		replies = hook(n, current)
	}
	for _, r := range replies {
		f.out <- r
	}

	return nil
}

func (f *fakeAnalyzer) setWaveformHook(h func(n int, s protocol.SettingsRequest) [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWaveform = h
}

func (f *fakeAnalyzer) hardwareRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hwRequests
}

func (f *fakeAnalyzer) flat(s protocol.SettingsRequest, level byte) []byte {
	return protocoltest.Waveform(protocoltest.WaveformFor(f.hw.Product, s, level))
}
