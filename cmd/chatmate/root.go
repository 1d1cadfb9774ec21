package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatmate/internal/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	modelsDir  string
	model      string
	modelPath  string
	searchDirs string

	engine    string
	ctxSize   int
	threads   int
	gpuLayers int
	llamaBin  string

	maxTokens   int
	temperature float32
	history     string
	template    string
	system      string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&rootOptions{}) }

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatmate",
		Short:         "Chat with a local GGUF model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("CHATMATE_CONFIG"), "Config file (.yaml, .json or .toml); defaults CHATMATE_CONFIG")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory scanned for *.gguf model files")
	pf.StringVar(&opts.model, "model", "", "Model name resolved in the search dirs")
	pf.StringVar(&opts.modelPath, "model-path", "", "Explicit model file path (wins over --model)")
	pf.StringVar(&opts.searchDirs, "search-dirs", "", "Comma-separated model search dirs, in order")
	pf.StringVar(&opts.engine, "engine", "", "Inference engine: server|llama")
	pf.IntVar(&opts.ctxSize, "ctx", 0, "Context window in tokens")
	pf.IntVar(&opts.threads, "threads", 0, "CPU threads (0 = engine default)")
	pf.IntVar(&opts.gpuLayers, "gpu-layers", 0, "Layers offloaded to the GPU")
	pf.StringVar(&opts.llamaBin, "llama-bin", "", "Path to llama-server (server engine)")
	pf.IntVar(&opts.maxTokens, "max-tokens", 0, "Maximum tokens per reply")
	pf.Float32Var(&opts.temperature, "temperature", 0, "Sampling temperature")
	pf.StringVar(&opts.history, "history", "", "History mode: isolated|transcript")
	pf.StringVar(&opts.template, "template", "", "Prompt template: raw|chatml")
	pf.StringVar(&opts.system, "system", "", "System prompt")

	root.AddCommand(
		newChatCmd(opts),
		newServeCmd(opts),
		newModelsCmd(opts),
		newInspectCmd(opts),
	)
	return root
}

// loadConfig reads the config file (if any), applies flags the user set and
// fills defaults.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	flags := cmd.Flags()
	set := func(name string) bool { return flags.Changed(name) }
	if set("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if set("models-dir") {
		cfg.ModelsDir = opts.modelsDir
	}
	if set("model") {
		cfg.Model = opts.model
		cfg.ModelPath = ""
	}
	if set("model-path") {
		cfg.ModelPath = opts.modelPath
	}
	if set("search-dirs") {
		cfg.SearchDirs = splitCSV(opts.searchDirs)
	}
	if set("engine") {
		cfg.Engine = opts.engine
	}
	if set("ctx") {
		cfg.ContextSize = opts.ctxSize
	}
	if set("threads") {
		cfg.Threads = opts.threads
	}
	if set("gpu-layers") {
		cfg.GPULayers = opts.gpuLayers
	}
	if set("llama-bin") {
		cfg.LlamaBin = opts.llamaBin
	}
	if set("max-tokens") {
		cfg.MaxTokens = opts.maxTokens
	}
	if set("temperature") {
		cfg.Temperature = opts.temperature
	}
	if set("history") {
		cfg.HistoryMode = opts.history
	}
	if set("template") {
		cfg.PromptTemplate = opts.template
	}
	if set("system") {
		cfg.SystemPrompt = opts.system
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to w in a
// human-readable form; json emits one object per line.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
