package testutil

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatmate/internal/model"
)

// ErrEngineFault is the error a scripted Engine returns from Step at FailAt.
var ErrEngineFault = errors.New("fake engine fault")

// Engine is a scripted model.Backend. Each Prime queues the fragments Reply
// returns for the prompt; Step pops them one at a time. Prime without a
// preceding Reset keeps the old queue, so missing resets show up as output
// bleeding into the next generation.
type Engine struct {
	Reply     func(prompt string) []string
	LoadErr   error
	LoadDelay time.Duration
	StepDelay time.Duration
	// FailAt makes the n-th Step of a generation fail (1-based); 0 never fails.
	FailAt int

	mu       sync.Mutex
	loads    int
	closes   int
	resets   int
	prompts  []string
	overlaps atomic.Int32
}

// NewEngine returns an Engine that echoes the prompt back word by word.
func NewEngine() *Engine { return &Engine{Reply: EchoReply} }

// EchoReply answers "You said: <prompt>", split after each space.
func EchoReply(prompt string) []string {
	var out []string
	for _, p := range strings.SplitAfter("You said: "+prompt, " ") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LongReply returns n single-word fragments.
func LongReply(n int) func(string) []string {
	return func(string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "word "
		}
		return out
	}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Load(path string, opts model.Options) (model.Runtime, error) {
	if e.LoadDelay > 0 {
		time.Sleep(e.LoadDelay)
	}
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	return &fakeRuntime{e: e}, nil
}

// Loads counts successful and failed Load calls.
func (e *Engine) Loads() int { e.mu.Lock(); defer e.mu.Unlock(); return e.loads }

// Closes counts runtimes closed.
func (e *Engine) Closes() int { e.mu.Lock(); defer e.mu.Unlock(); return e.closes }

// Resets counts Reset calls across all runtimes.
func (e *Engine) Resets() int { e.mu.Lock(); defer e.mu.Unlock(); return e.resets }

// Prompts returns every primed prompt in order.
func (e *Engine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.prompts...)
}

// Overlaps counts calls that entered a runtime while another was in flight.
func (e *Engine) Overlaps() int { return int(e.overlaps.Load()) }

type fakeRuntime struct {
	e      *Engine
	busy   atomic.Int32
	queue  []string
	steps  int
	closed bool
}

func (r *fakeRuntime) enter() func() {
	if r.busy.Add(1) > 1 {
		r.e.overlaps.Add(1)
	}
	return func() { r.busy.Add(-1) }
}

func (r *fakeRuntime) Prime(prompt string, params model.SamplingParams) error {
	defer r.enter()()
	if r.closed {
		return errors.New("fake runtime closed")
	}
	r.e.mu.Lock()
	r.e.prompts = append(r.e.prompts, prompt)
	reply := r.e.Reply
	r.e.mu.Unlock()
	if reply == nil {
		reply = EchoReply
	}
	frags := reply(prompt)
	if params.MaxTokens > 0 && len(frags) > params.MaxTokens {
		frags = frags[:params.MaxTokens]
	}
	r.queue = append(r.queue, frags...)
	r.steps = 0
	return nil
}

func (r *fakeRuntime) Step() (model.Token, error) {
	defer r.enter()()
	if r.e.StepDelay > 0 {
		time.Sleep(r.e.StepDelay)
	}
	r.steps++
	if r.e.FailAt > 0 && r.steps == r.e.FailAt {
		return model.Token{}, ErrEngineFault
	}
	if len(r.queue) == 0 {
		return model.Token{Done: true}, nil
	}
	t := r.queue[0]
	r.queue = r.queue[1:]
	return model.Token{Text: t}, nil
}

func (r *fakeRuntime) Reset() error {
	defer r.enter()()
	r.e.mu.Lock()
	r.e.resets++
	r.e.mu.Unlock()
	r.queue = nil
	r.steps = 0
	return nil
}

func (r *fakeRuntime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.e.mu.Lock()
	r.e.closes++
	r.e.mu.Unlock()
	return nil
}
