package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
models_dir: /tmp
model: qwen2.5-0.5b
engine: llama
context_size: 4096
temperature: 0.7
stop: ["<|im_end|>"]
history_mode: transcript
prompt_template: chatml
greeting: ""
search_dirs: [/a, /b]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.Model != "qwen2.5-0.5b" || cfg.Engine != "llama" || cfg.ContextSize != 4096 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Temperature != 0.7 || len(cfg.Stop) != 1 || len(cfg.SearchDirs) != 2 {
		t.Fatalf("unexpected sampling/search: %+v", cfg)
	}
	if cfg.HistoryMode != "transcript" || cfg.PromptTemplate != "chatml" {
		t.Fatalf("unexpected knobs: %+v", cfg)
	}
	if cfg.Greeting == nil || cfg.GreetingText() != "" {
		t.Fatalf("explicit empty greeting not kept")
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","model_path":"/m/x.gguf","threads":4,"llama_port_start":31000,"llama_port_end":31010,"cors_enabled":true}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.ModelPath != "/m/x.gguf" || cfg.Threads != 4 || !cfg.CORSEnabled {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if o := cfg.ModelOptions(); o.PortStart != 31000 || o.PortEnd != 31010 || o.Threads != 4 {
		t.Fatalf("unexpected model options: %+v", o)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nmax_tokens=64\ntop_k=40\nsystem_prompt=\"Be brief.\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.MaxTokens != 64 || cfg.TopK != 40 || cfg.SystemPrompt != "Be brief." {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Engine != "server" || cfg.ContextSize != 2048 || cfg.HistoryMode != "isolated" || cfg.PromptTemplate != "raw" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.GreetingText() != DefaultGreeting {
		t.Fatalf("greeting=%q", cfg.GreetingText())
	}
	if cfg.ModelOptions().ReadyTimeout != 30*time.Second {
		t.Fatalf("ready timeout=%v", cfg.ModelOptions().ReadyTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	b := cfg.PromptBuilder()
	if b.Mode != "isolated" || b.Template != "raw" {
		t.Fatalf("builder=%+v", b)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{Engine: "llama", MaxTokens: 16, LogFormat: "json"}
	cfg.ApplyDefaults()
	if cfg.Engine != "llama" || cfg.MaxTokens != 16 || cfg.LogFormat != "json" {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
