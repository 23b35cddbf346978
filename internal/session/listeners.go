package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/trace"
)

// Listener receives completed sweeps and device-reported errors. Calls for
// one listener are sequential and happen off the scan loop. The trace is
// shared between listeners and must not be modified.
type Listener interface {
	OnTrace(t *trace.Trace)
	OnError(e protocol.ErrorResponse)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Trace func(t *trace.Trace)
	Error func(e protocol.ErrorResponse)
}

func (f ListenerFuncs) OnTrace(t *trace.Trace) {
	if f.Trace != nil {
		f.Trace(t)
	}
}

func (f ListenerFuncs) OnError(e protocol.ErrorResponse) {
	if f.Error != nil {
		f.Error(e)
	}
}

type listenerEvent struct {
	trace  *trace.Trace
	devErr *protocol.ErrorResponse
}

type subscriber struct {
	name   string
	l      Listener
	events chan listenerEvent
	quit   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			switch {
			case ev.trace != nil:
				s.l.OnTrace(ev.trace)
			case ev.devErr != nil:
				s.l.OnError(*ev.devErr)
			}
		}
	}
}

// fanout feeds each listener through its own bounded queue. A listener
// whose queue stays full for longer than grace is detached.
type fanout struct {
	logger   *slog.Logger
	grace    time.Duration
	queue    int
	onDetach func(name string)

	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*subscriber
	detached uint64
}

func newFanout(logger *slog.Logger, grace time.Duration, queue int, onDetach func(string)) *fanout {
	return &fanout{
		logger:   logger,
		grace:    grace,
		queue:    queue,
		onDetach: onDetach,
		subs:     make(map[uint64]*subscriber),
	}
}

func (f *fanout) add(name string, l Listener) func() {
	s := &subscriber{
		name:   name,
		l:      l,
		events: make(chan listenerEvent, f.queue),
		quit:   make(chan struct{}),
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = s
	f.mu.Unlock()

	go s.run()
	f.logger.Debug("listener added", "listener", name)

	return func() { f.remove(id) }
}

func (f *fanout) remove(id uint64) bool {
	f.mu.Lock()
	s, ok := f.subs[id]
	delete(f.subs, id)
	f.mu.Unlock()
	if ok {
		s.stop()
	}

	return ok
}

func (f *fanout) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}

func (f *fanout) detachedCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.detached
}

func (f *fanout) deliverTrace(t *trace.Trace) {
	f.deliver(listenerEvent{trace: t})
}

func (f *fanout) deliverError(e protocol.ErrorResponse) {
	f.deliver(listenerEvent{devErr: &e})
}

func (f *fanout) deliver(ev listenerEvent) {
	f.mu.Lock()
	ids := make([]uint64, 0, len(f.subs))
	subs := make([]*subscriber, 0, len(f.subs))
	for id, s := range f.subs {
		ids = append(ids, id)
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for i, s := range subs {
		select {
		case s.events <- ev:
			continue
		case <-s.quit:
			continue
		default:
		}

		timer := time.NewTimer(f.grace)
		select {
		case s.events <- ev:
		case <-s.quit:
		case <-timer.C:
			if f.remove(ids[i]) {
				f.mu.Lock()
				f.detached++
				f.mu.Unlock()
				f.logger.Warn("listener detached", "listener", s.name, "grace", f.grace)
				if f.onDetach != nil {
					f.onDetach(s.name)
				}
			}
		}
		timer.Stop()
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[uint64]*subscriber)
	f.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}
