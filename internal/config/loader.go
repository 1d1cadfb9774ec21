package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"chatmate/internal/chat"
	"chatmate/internal/model"
)

// DefaultModel is resolved in the search dirs when no model or model_path is set.
const DefaultModel = "qwen2.5-1.5b-instruct-q4_k_m"

// DefaultGreeting is appended to the conversation after a model loads.
const DefaultGreeting = "Hello! I'm ChatMate, an assistant running entirely on this machine. " +
	"I work offline and our conversation stays local. How can I help?"

// Config holds runtime parameters for the chat and serve commands.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr       string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir  string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Model      string   `json:"model" yaml:"model" toml:"model"`
	ModelPath  string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	SearchDirs []string `json:"search_dirs" yaml:"search_dirs" toml:"search_dirs"`

	Engine          string   `json:"engine" yaml:"engine" toml:"engine"`
	ContextSize     int      `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads         int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers       int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	LlamaBin        string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaHost       string   `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	LlamaPortStart  int      `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start"`
	LlamaPortEnd    int      `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end"`
	LlamaExtraArgs  []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args"`
	ReadyTimeoutSec int      `json:"ready_timeout_sec" yaml:"ready_timeout_sec" toml:"ready_timeout_sec"`

	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	Seed          int      `json:"seed" yaml:"seed" toml:"seed"`
	RepeatPenalty float32  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	Stop          []string `json:"stop" yaml:"stop" toml:"stop"`

	HistoryMode    string `json:"history_mode" yaml:"history_mode" toml:"history_mode"`
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template" toml:"prompt_template"`
	SystemPrompt   string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	// Greeting nil selects DefaultGreeting; an empty string disables it.
	Greeting *string `json:"greeting" yaml:"greeting" toml:"greeting"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
	MaxBodyBytes       int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Defaults returns a Config with every default filled in.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.Model == "" && c.ModelPath == "" {
		c.Model = DefaultModel
	}
	if c.Engine == "" {
		c.Engine = "server"
	}
	if c.ContextSize == 0 {
		c.ContextSize = model.DefaultContextSize
	}
	if c.LlamaHost == "" {
		c.LlamaHost = "127.0.0.1"
	}
	if c.ReadyTimeoutSec == 0 {
		c.ReadyTimeoutSec = 30
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	if c.HistoryMode == "" {
		c.HistoryMode = string(chat.HistoryIsolated)
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = string(chat.TemplateRaw)
	}
	if c.Greeting == nil {
		g := DefaultGreeting
		c.Greeting = &g
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := chat.ParseHistoryMode(c.HistoryMode); err != nil {
		return err
	}
	if _, err := chat.ParseTemplate(c.PromptTemplate); err != nil {
		return err
	}
	if c.ContextSize < 0 || c.Threads < 0 || c.GPULayers < 0 || c.MaxTokens < 0 {
		return fmt.Errorf("context_size, threads, gpu_layers and max_tokens must not be negative")
	}
	if (c.LlamaPortStart > 0 || c.LlamaPortEnd > 0) && c.LlamaPortEnd < c.LlamaPortStart {
		return fmt.Errorf("llama_port_end (%d) is below llama_port_start (%d)", c.LlamaPortEnd, c.LlamaPortStart)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want console or json)", c.LogFormat)
	}
	return nil
}

// ModelOptions maps the engine fields onto model.Options.
func (c Config) ModelOptions() model.Options {
	return model.Options{
		ContextSize:  c.ContextSize,
		Threads:      c.Threads,
		GPULayers:    c.GPULayers,
		LlamaBin:     c.LlamaBin,
		Host:         c.LlamaHost,
		PortStart:    c.LlamaPortStart,
		PortEnd:      c.LlamaPortEnd,
		ExtraArgs:    append([]string(nil), c.LlamaExtraArgs...),
		ReadyTimeout: time.Duration(c.ReadyTimeoutSec) * time.Second,
	}
}

// Sampling maps the decode fields onto model.SamplingParams.
func (c Config) Sampling() model.SamplingParams {
	return model.SamplingParams{
		MaxTokens:     c.MaxTokens,
		Temperature:   c.Temperature,
		TopP:          c.TopP,
		TopK:          c.TopK,
		Seed:          c.Seed,
		RepeatPenalty: c.RepeatPenalty,
		Stop:          append([]string(nil), c.Stop...),
	}
}

// PromptBuilder builds the chat prompt builder. Call Validate first.
func (c Config) PromptBuilder() chat.PromptBuilder {
	mode, _ := chat.ParseHistoryMode(c.HistoryMode)
	tpl, _ := chat.ParseTemplate(c.PromptTemplate)
	return chat.PromptBuilder{Mode: mode, Template: tpl, System: c.SystemPrompt}
}

// GreetingText returns the greeting to show after a load ("" for none).
func (c Config) GreetingText() string {
	if c.Greeting == nil {
		return DefaultGreeting
	}
	return *c.Greeting
}
