package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatmate/internal/gguf"
)

// minFileSize is the smallest file that can hold a GGUF preamble
// (magic, version, tensor count, kv count).
const minFileSize = 24

// Handle owns one loaded Runtime. All methods are safe for concurrent use;
// the mutex is held only for the duration of a single call.
type Handle struct {
	mu       sync.Mutex
	rt       Runtime
	info     Info
	primed   bool
	finished bool
	disposed bool
}

type loadResult struct {
	rt  Runtime
	err error
}

// Create validates path and loads it through backend on a background
// goroutine. It returns when the load finishes or ctx is done; a load that
// completes after the caller gave up is closed in the background.
func Create(ctx context.Context, path string, backend Backend, opts Options) (*Handle, error) {
	log := opts.logger()
	if backend == nil {
		return nil, &LoadError{Path: path, Reason: "no engine configured"}
	}
	info, err := inspect(path)
	if err != nil {
		return nil, err
	}
	info.Backend = backend.Name()
	info.ContextSize = effectiveContextSize(opts.ContextSize, info.TrainContextSize)
	opts.ContextSize = info.ContextSize

	start := time.Now()
	log.Info().Str("path", path).Str("backend", backend.Name()).Int("ctx", info.ContextSize).Msg("event=model_load_start")

	resCh := make(chan loadResult, 1)
	go func() {
		rt, err := backend.Load(path, opts)
		resCh <- loadResult{rt: rt, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			log.Warn().Str("path", path).Err(res.err).Msg("event=model_load_error")
			reason := "engine failed to load model"
			if IsDependencyUnavailable(res.err) {
				reason = "engine unavailable"
			}
			return nil, &LoadError{Path: path, Reason: reason, Err: res.err}
		}
		if res.rt == nil {
			return nil, &LoadError{Path: path, Reason: "engine returned no context"}
		}
		log.Info().Str("path", path).Dur("dur", time.Since(start)).Msg("event=model_load_done")
		return &Handle{rt: res.rt, info: info}, nil
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.rt != nil {
				_ = res.rt.Close()
			}
		}()
		log.Warn().Str("path", path).Err(ctx.Err()).Msg("event=model_load_cancelled")
		return nil, &LoadError{Path: path, Reason: "load cancelled", Err: ctx.Err()}
	}
}

// Inspect reads metadata from path without loading it.
func Inspect(path string) (Info, error) {
	info, err := inspect(path)
	if err != nil {
		return Info{}, err
	}
	info.ContextSize = effectiveContextSize(0, info.TrainContextSize)
	return info, nil
}

func inspect(path string) (Info, error) {
	if strings.TrimSpace(path) == "" {
		return Info{}, &LoadError{Path: path, Reason: "model path is empty"}
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, &LoadError{Path: path, Reason: "model file not found", Err: err}
		}
		return Info{}, &LoadError{Path: path, Reason: "cannot stat model file", Err: err}
	}
	if !fi.Mode().IsRegular() {
		return Info{}, &LoadError{Path: path, Reason: "model path is not a regular file"}
	}
	if fi.Size() < minFileSize {
		return Info{}, &LoadError{Path: path, Reason: "model file is too small"}
	}
	h, err := gguf.ReadFile(path)
	if err != nil {
		reason := "corrupt model file"
		if gguf.IsUnsupportedVersion(err) {
			reason = "unsupported model format"
		}
		return Info{}, &LoadError{Path: path, Reason: reason, Err: err}
	}
	name := h.Name()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Info{
		Name:             name,
		Path:             path,
		Architecture:     h.Architecture(),
		TrainContextSize: h.ContextLength(),
		Vocab:            h.VocabDescription(),
		VocabSize:        h.VocabSize(),
		FileSize:         fi.Size(),
		GGUFVersion:      h.Version,
	}, nil
}

func effectiveContextSize(requested, train int) int {
	n := requested
	if n <= 0 {
		n = DefaultContextSize
	}
	if train > 0 && n > train {
		n = train
	}
	return n
}

// Info returns the metadata captured at load time. It stays available after
// Dispose.
func (h *Handle) Info() Info { return h.info }

// Prime starts a new generation. Any previous decode state is dropped first.
func (h *Handle) Prime(prompt string, params SamplingParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return ErrUseAfterDispose
	}
	if h.primed {
		if err := h.rt.Reset(); err != nil {
			return err
		}
		h.primed = false
	}
	if err := h.rt.Prime(prompt, params); err != nil {
		return err
	}
	h.primed = true
	h.finished = false
	return nil
}

// Step advances the engine by one unit of output. After a Done token every
// further Step returns Done again until the next Prime.
func (h *Handle) Step() (Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return Token{}, ErrUseAfterDispose
	}
	if !h.primed {
		return Token{}, errNotPrimed
	}
	if h.finished {
		return Token{Done: true}, nil
	}
	tok, err := h.rt.Step()
	if err != nil {
		return Token{}, err
	}
	if tok.Done {
		h.finished = true
		tok.Text = ""
	}
	return tok, nil
}

// Reset clears decode state so a new generation can start cleanly.
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return ErrUseAfterDispose
	}
	if !h.primed {
		return nil
	}
	h.primed = false
	h.finished = false
	return h.rt.Reset()
}

// Dispose releases the engine. Calling it again is a no-op.
func (h *Handle) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil
	}
	h.disposed = true
	h.primed = false
	err := h.rt.Close()
	h.rt = nil
	return err
}

// Disposed reports whether Dispose has been called.
func (h *Handle) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}
