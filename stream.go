package vibekit

import (
	"sync"

	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
)

// Callbacks receive progress while a call is in flight. Either field may be
// nil.
type Callbacks struct {
	OnUpdate func(message string)
	OnError  func(err error)
}

const (
	updateEvent = eventbus.TypeUpdate
	errorEvent  = eventbus.TypeError
	doneEvent   = eventbus.TypeDone
)

// streamAdapter turns Callbacks into the agent's streaming interface.
//
// Every error is forwarded once, in the order reported, and does not end
// the stream. Updates are dropped once the call settled. Backends may call
// it from several goroutines.
type streamAdapter struct {
	v   *VibeKit
	op  string
	cb  *Callbacks
	mu  sync.Mutex
	end bool
}

// stream returns the adapter for one call. It is nil when neither caller
// callbacks nor an event bus want the stream.
func (v *VibeKit) stream(op string, cb *Callbacks) *streamAdapter {
	if cb == nil && v.bus == nil {
		return nil
	}
	return &streamAdapter{v: v, op: op, cb: cb}
}

// callbacks returns the value handed to the backend: a nil interface when
// no streaming is wanted.
func (s *streamAdapter) callbacks() agent.Callbacks {
	if s == nil {
		return nil
	}
	return s
}

func (s *streamAdapter) OnUpdate(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end {
		return
	}
	s.v.publish(s.op, updateEvent, message)
	if s.cb != nil && s.cb.OnUpdate != nil {
		s.cb.OnUpdate(message)
	}
}

func (s *streamAdapter) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var data string
	if err != nil {
		data = err.Error()
	}
	s.v.publish(s.op, errorEvent, data)
	if s.cb != nil && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// settle marks the call finished and publishes its outcome.
func (s *streamAdapter) settle(res *agent.Response, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = true
	s.v.publish(s.op, doneEvent, outcome(res, err))
}

func (v *VibeKit) publish(op string, typ eventbus.Type, data string) {
	if v.bus == nil {
		return
	}
	v.bus.Publish(v.session, &eventbus.Event{
		Session:   v.session,
		Operation: op,
		Type:      typ,
		Data:      data,
	})
}
