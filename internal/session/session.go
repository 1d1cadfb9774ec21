package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatmate/internal/events"
	"chatmate/internal/model"
	"chatmate/internal/telemetry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Session owns at most one model Handle and runs at most one generation at a
// time. State changes happen only through Load, Generate, Cancel and Close.
//
// s.mu guards state and is never held across a load or a decode step.
type Session struct {
	mu      sync.Mutex
	state   State
	reason  string
	handle  *model.Handle
	path    string
	genID   uint64
	active  *Stream
	closed  bool
	pending []events.Event

	cfg Config
	log zerolog.Logger
	pub events.Publisher
}

// New returns an idle session.
func New(cfg Config) *Session {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.Model.Logger == nil {
		cfg.Model.Logger = &log
	}
	return &Session{
		state: StateIdle,
		cfg:   cfg,
		log:   log,
		pub:   events.OrNop(cfg.Publisher),
	}
}

// unlock releases s.mu and then publishes the events queued while it was held.
func (s *Session) unlock() {
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, e := range evs {
		s.pub.Publish(e)
	}
}

func (s *Session) emitLocked(name string, fields map[string]any) {
	s.pending = append(s.pending, events.New(name, fields))
}

func (s *Session) setStateLocked(to State, reason string) {
	from := s.state
	s.state = to
	s.reason = reason
	if from == to {
		return
	}
	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("event=state_changed")
	f := map[string]any{"from": string(from), "to": string(to)}
	if reason != "" {
		f["reason"] = reason
	}
	s.emitLocked(EventStateChanged, f)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Reason: s.reason, GenerationID: s.genID, ModelPath: s.path}
	if s.handle != nil {
		info := s.handle.Info()
		st.Model = &info
	}
	return st
}

// State returns the current state and failure reason.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Ready reports whether a generation can start right now.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// IsGenerating reports whether a generation is in flight.
func (s *Session) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateGenerating
}

// Load creates a Handle for path and makes the session ready. It is valid from
// idle, failed (explicit retry) and ready (model swap: the previous handle is
// disposed before the new one loads). A failed load leaves the session in
// StateFailed with a readable reason and returns the *model.LoadError.
func (s *Session) Load(ctx context.Context, path string) (err error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.unlock()
		return ErrClosed
	case s.state == StateLoading:
		s.unlock()
		return ErrLoadInProgress
	case s.state == StateGenerating:
		s.unlock()
		return ErrAlreadyGenerating
	}
	old := s.handle
	s.handle = nil
	s.path = path
	s.setStateLocked(StateLoading, "")
	s.emitLocked(EventLoadStarted, map[string]any{"path": path})
	s.unlock()

	if old != nil {
		if derr := old.Dispose(); derr != nil {
			s.log.Warn().Err(derr).Str("path", old.Info().Path).Msg("event=model_dispose_error")
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "session.load", trace.WithAttributes(attribute.String("model.path", path)))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	h, err := model.Create(ctx, path, s.cfg.Backend, s.cfg.Model)
	dur := time.Since(start)

	s.mu.Lock()
	if s.closed {
		s.unlock()
		if h != nil {
			_ = h.Dispose()
		}
		return ErrClosed
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		telemetry.ObserveLoad(outcome, dur)
		s.setStateLocked(StateFailed, err.Error())
		s.emitLocked(EventLoadFailed, map[string]any{"path": path, "reason": err.Error()})
		s.unlock()
		s.log.Warn().Str("path", path).Err(err).Msg("event=session_load_failed")
		return err
	}
	telemetry.ObserveLoad("ok", dur)
	s.handle = h
	s.setStateLocked(StateReady, "")
	s.emitLocked(EventLoadSucceeded, map[string]any{"path": path, "name": h.Info().Name})
	s.unlock()
	s.log.Info().Str("path", path).Str("model", h.Info().Name).Dur("dur", dur).Msg("event=session_ready")
	return nil
}

// Cancel stops the active generation, if any. It only affects the generation
// running when it is called; calling it again, or with nothing running, is a
// no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st != nil {
		s.cancelGeneration(st.id)
	}
}

// CancelGeneration is Cancel scoped to id: it does nothing unless id is the
// active generation.
func (s *Session) CancelGeneration(id uint64) { s.cancelGeneration(id) }

func (s *Session) cancelGeneration(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != id {
		return
	}
	if !s.active.stopRequested() {
		s.log.Debug().Uint64("gen_id", id).Msg("event=generation_cancel_requested")
	}
	s.active.requestStop()
}

// Close cancels any generation, waits for it to settle and disposes the
// handle. The session is unusable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.unlock()
		return nil
	}
	s.closed = true
	st := s.active
	s.unlock()

	if st != nil {
		st.requestStop()
		<-st.done
	}

	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.setStateLocked(StateIdle, "")
	s.unlock()
	if h != nil {
		return h.Dispose()
	}
	return nil
}
