package model

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultContextSize is used when neither Options nor the file specify one.
const DefaultContextSize = 2048

// Info is static metadata read once when the handle is created.
type Info struct {
	Name             string `json:"name"`
	Path             string `json:"path"`
	Architecture     string `json:"architecture,omitempty"`
	ContextSize      int    `json:"context_size"`
	TrainContextSize int    `json:"train_context_size,omitempty"`
	Vocab            string `json:"vocab"`
	VocabSize        int    `json:"vocab_size,omitempty"`
	FileSize         int64  `json:"file_size"`
	GGUFVersion      uint32 `json:"gguf_version"`
	Backend          string `json:"backend"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s [%s] ctx=%d vocab=%s size=%dMB backend=%s",
		i.Name, i.Architecture, i.ContextSize, i.Vocab, i.FileSize/(1024*1024), i.Backend)
}

// Token is one unit of engine output. Done marks the end of the generation;
// a Done token carries no text.
type Token struct {
	Text string
	Done bool
}

// Options configure how a model is loaded.
type Options struct {
	ContextSize int
	Threads     int
	GPULayers   int
	// llama-server engine only.
	LlamaBin     string
	Host         string
	PortStart    int
	PortEnd      int
	ExtraArgs    []string
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// SamplingParams are per-generation decode settings. Zero values select the
// engine defaults.
type SamplingParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	Seed          int
	RepeatPenalty float32
	Stop          []string
}

// Backend loads model files into a Runtime.
type Backend interface {
	Name() string
	Load(path string, opts Options) (Runtime, error)
}

// Runtime is a loaded engine context. Implementations need not be safe for
// concurrent use; Handle serializes every call.
type Runtime interface {
	// Prime starts a new generation for prompt.
	Prime(prompt string, params SamplingParams) error
	// Step produces the next piece of output.
	Step() (Token, error)
	// Reset drops decode state; calling it twice is harmless.
	Reset() error
	// Close frees the engine context.
	Close() error
}
