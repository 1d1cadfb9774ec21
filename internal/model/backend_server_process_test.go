package model

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	fakeBinOnce sync.Once
	fakeBinPath string
	fakeBinErr  error
)

// buildFakeLlama compiles testdata/fakellama once per test binary.
func buildFakeLlama(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}
	fakeBinOnce.Do(func() {
		dir, err := os.MkdirTemp("", "fakellama")
		if err != nil {
			fakeBinErr = err
			return
		}
		fakeBinPath = filepath.Join(dir, "llama-server")
		if runtime.GOOS == "windows" {
			fakeBinPath += ".exe"
		}
		cmd := exec.Command(goBin, "build", "-o", fakeBinPath, "./testdata/fakellama")
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		if out, err := cmd.CombinedOutput(); err != nil {
			fakeBinErr = err
			t.Logf("build output:\n%s", out)
		}
	})
	if fakeBinErr != nil {
		t.Fatalf("build fakellama: %v", fakeBinErr)
	}
	return fakeBinPath
}

func TestServerBackend_Subprocess(t *testing.T) {
	bin := buildFakeLlama(t)
	model := filepath.Join(t.TempDir(), "m.gguf")
	if err := os.WriteFile(model, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt, err := serverBackend{}.Load(model, Options{LlamaBin: bin, ContextSize: 512, Threads: 2, ReadyTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer rt.Close()

	for i := 0; i < 2; i++ {
		if err := rt.Prime("hello world", SamplingParams{}); err != nil {
			t.Fatalf("prime %d: %v", i, err)
		}
		if got := drain(t, rt); got != "You said: hello world" {
			t.Fatalf("run %d: got %q", i, got)
		}
		if err := rt.Reset(); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	if err := rt.Prime("one two three four", SamplingParams{MaxTokens: 2}); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if got := drain(t, rt); got != "You said: " {
		t.Fatalf("max tokens not forwarded: %q", got)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Prime("again", SamplingParams{}); err == nil {
		t.Fatalf("prime after close succeeded")
	}
}

func TestServerBackend_SubprocessEarlyExit(t *testing.T) {
	bin := buildFakeLlama(t)
	missing := filepath.Join(t.TempDir(), "missing.gguf")
	_, err := serverBackend{}.Load(missing, Options{LlamaBin: bin, ReadyTimeout: 10 * time.Second})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited") || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("err=%v", err)
	}
}
