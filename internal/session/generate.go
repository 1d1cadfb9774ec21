package session

import (
	"context"
	"time"

	"chatmate/internal/model"
	"chatmate/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Generate starts a generation for prompt using the configured sampling
// parameters. The session must be ready: otherwise it fails with ErrNotReady,
// or ErrAlreadyGenerating while another generation runs.
//
// The returned Stream is fed by one producer goroutine that resets and primes
// the handle, then steps it one fragment at a time. ctx bounds the whole
// generation; its cancellation behaves like Cancel.
func (s *Session) Generate(ctx context.Context, prompt string) (*Stream, error) {
	return s.GenerateWith(ctx, prompt, s.cfg.Sampling)
}

// GenerateWith is Generate with explicit sampling parameters.
func (s *Session) GenerateWith(ctx context.Context, prompt string, params model.SamplingParams) (*Stream, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.unlock()
		return nil, ErrClosed
	case s.state == StateGenerating:
		s.unlock()
		return nil, ErrAlreadyGenerating
	case s.state != StateReady || s.handle == nil:
		err := notReady(s.state, s.reason)
		s.unlock()
		return nil, err
	}
	s.genID++
	st := newStream(s.genID)
	s.active = st
	h := s.handle
	s.setStateLocked(StateGenerating, "")
	s.emitLocked(EventGenerationStarted, map[string]any{"gen_id": st.id})
	s.unlock()

	telemetry.GenerationStarted()
	ctx, span := telemetry.StartSpan(ctx, "session.generate", trace.WithAttributes(
		attribute.Int64("gen.id", int64(st.id)),
		attribute.Int("prompt.len", len(prompt)),
	))
	s.log.Debug().Uint64("gen_id", st.id).Int("prompt_len", len(prompt)).Msg("event=generation_start")
	go s.produce(ctx, st, h, prompt, params, span)
	return st, nil
}

func (s *Session) produce(ctx context.Context, st *Stream, h *model.Handle, prompt string, params model.SamplingParams, span trace.Span) {
	start := time.Now()
	var engineErr error
	cancelled := false

	fail := func(err error) { engineErr = &EngineError{GenerationID: st.id, Err: err} }

	if err := h.Reset(); err != nil {
		fail(err)
	} else if err := h.Prime(prompt, params); err != nil {
		fail(err)
	}

loop:
	for engineErr == nil {
		if st.stopRequested() || ctx.Err() != nil {
			cancelled = true
			break
		}
		tok, err := h.Step()
		if err != nil {
			fail(err)
			break
		}
		// A cancel that landed during Step discards the token it produced.
		if st.stopRequested() || ctx.Err() != nil {
			cancelled = true
			break
		}
		if tok.Done {
			break
		}
		if tok.Text == "" {
			continue
		}
		select {
		case st.ch <- tok.Text:
			st.mu.Lock()
			st.delivered++
			n := st.delivered
			st.mu.Unlock()
			if n == 1 {
				telemetry.ObserveFirstFragment(time.Since(start))
			}
			telemetry.FragmentDelivered()
		case <-st.stop:
			cancelled = true
			break loop
		case <-ctx.Done():
			cancelled = true
			break loop
		}
	}

	// Decode state never outlives a generation.
	if err := h.Reset(); err != nil && engineErr == nil {
		fail(err)
	}
	s.finishGeneration(st, engineErr, cancelled, time.Since(start), span)
}

func (s *Session) finishGeneration(st *Stream, engineErr error, cancelled bool, dur time.Duration, span trace.Span) {
	outcome := OutcomeCompleted
	switch {
	case engineErr != nil:
		outcome = OutcomeFailed
		cancelled = false
	case cancelled:
		outcome = OutcomeCancelled
	}

	s.mu.Lock()
	if s.active == st {
		s.active = nil
	}
	if !s.closed {
		if engineErr != nil {
			s.setStateLocked(StateFailed, engineErr.Error())
		} else {
			s.setStateLocked(StateReady, "")
		}
	}
	s.emitLocked(EventGenerationFinished, map[string]any{
		"gen_id":    st.id,
		"outcome":   outcome,
		"fragments": st.Delivered(),
	})
	s.unlock()

	telemetry.GenerationFinished(outcome)
	telemetry.EndSpan(span, engineErr)
	ev := s.log.Debug()
	if engineErr != nil {
		ev = s.log.Warn().Err(engineErr)
	}
	ev.Uint64("gen_id", st.id).Str("outcome", outcome).Int("fragments", st.Delivered()).Dur("dur", dur).Msg("event=generation_done")

	st.finish(engineErr, cancelled)
}
