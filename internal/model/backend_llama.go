//go:build llama

package model

import (
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

func init() { Register(llamaBackend{}) }

type llamaBackend struct{}

func (llamaBackend) Name() string { return "llama" }

func (llamaBackend) Load(path string, opts Options) (Runtime, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{llama.SetContext(opts.ContextSize)}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRuntime{
		model:   m,
		threads: opts.Threads,
		tokens:  make(chan string),
		resume:  make(chan bool),
		done:    make(chan error, 1),
	}, nil
}

// llamaRuntime drives go-llama.cpp one token at a time. Predict runs on its
// own goroutine; the token callback hands each piece over on tokens and
// then parks until Step (continue) or Reset (stop) answers on resume.
type llamaRuntime struct {
	model   *llama.LLama
	threads int

	tokens chan string
	resume chan bool
	done   chan error

	running bool // a Predict goroutine is alive
	parked  bool // the callback is waiting on resume
}

func (r *llamaRuntime) Prime(prompt string, params SamplingParams) error {
	if r.model == nil {
		return errors.New("llama model not initialized")
	}
	if err := r.Reset(); err != nil {
		return err
	}
	r.model.SetTokenCallback(func(tok string) bool {
		r.tokens <- tok
		return <-r.resume
	})
	po := mapSamplingParams(params, r.threads)
	r.running = true
	go func() {
		_, err := r.model.Predict(prompt, po...)
		r.done <- err
	}()
	return nil
}

func (r *llamaRuntime) Step() (Token, error) {
	if !r.running {
		return Token{Done: true}, nil
	}
	if r.parked {
		r.parked = false
		r.resume <- true
	}
	select {
	case tok := <-r.tokens:
		r.parked = true
		return Token{Text: tok}, nil
	case err := <-r.done:
		r.running = false
		if err != nil {
			return Token{}, err
		}
		return Token{Done: true}, nil
	}
}

func (r *llamaRuntime) Reset() error {
	if !r.running {
		return nil
	}
	if r.parked {
		r.parked = false
		r.resume <- false
	}
	for {
		select {
		case <-r.tokens:
			r.resume <- false
		case <-r.done:
			// An early stop is reported by Predict as an error on some builds;
			// it carries nothing the caller can act on.
			r.running = false
			return nil
		}
	}
}

func (r *llamaRuntime) Close() error {
	_ = r.Reset()
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapSamplingParams converts sampling params into go-llama.cpp options.
func mapSamplingParams(params SamplingParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(zn(params.MaxTokens, 512)),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
