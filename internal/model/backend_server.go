package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const defaultReadyTimeout = 30 * time.Second

func init() { Register(serverBackend{}) }

// serverBackend spawns llama.cpp's llama-server for one model file and
// streams completions from it over loopback.
type serverBackend struct{}

func (serverBackend) Name() string { return "server" }

func (serverBackend) Load(path string, opts Options) (Runtime, error) {
	log := opts.logger()
	bin := strings.TrimSpace(opts.LlamaBin)
	if bin == "" {
		bin = discoverLlamaBin()
	}
	if bin == "" {
		return nil, ErrDependencyUnavailable("llama-server not found: set llama_bin or install llama.cpp")
	}
	if fi, err := os.Stat(bin); err != nil || fi.IsDir() {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("llama-server not found or not a file: %s", bin))
	}
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	var port int
	var err error
	if opts.PortStart > 0 && opts.PortEnd >= opts.PortStart {
		port, err = pickPortInRange(host, opts.PortStart, opts.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))

	args := []string{"-m", path, "--host", host, "--port", strconv.Itoa(port)}
	if opts.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(opts.ContextSize))
	}
	if opts.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(opts.GPULayers))
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	args = append(args, opts.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	cmd.Dir = filepath.Dir(path)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	log.Info().Str("bin", bin).Int("pid", cmd.Process.Pid).Str("url", baseURL).Msg("event=server_spawn")

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	rt := &serverRuntime{
		cmd:     cmd,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 0},
		exited:  exited,
		log:     log,
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	if err := rt.waitReady(timeout, stderr); err != nil {
		_ = rt.Close()
		return nil, err
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("event=server_ready")
	return rt, nil
}

// serverRuntime is a running llama-server plus at most one open completion
// stream.
type serverRuntime struct {
	cmd     *exec.Cmd
	baseURL string
	client  *http.Client
	exited  chan error
	log     zerolog.Logger

	cancel context.CancelFunc
	body   io.ReadCloser
	reader *bufio.Reader
	closed bool
}

func (r *serverRuntime) waitReady(timeout time.Duration, stderr *tailBuffer) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("llama-server not ready in %s: %s", timeout, r.baseURL)
		}
		select {
		case werr := <-r.exited:
			r.exited <- werr
			if werr != nil {
				return fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, stderr.String())
			}
			return fmt.Errorf("llama-server exited before ready; stderr tail: %s", stderr.String())
		default:
		}
		if r.healthy(time.Second) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (r *serverRuntime) healthy(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
}

// streamChunk accepts both the completions (text) and chat (delta.content)
// chunk shapes.
type streamChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (r *serverRuntime) Prime(prompt string, params SamplingParams) error {
	if r.closed {
		return errors.New("llama-server runtime closed")
	}
	_ = r.Reset()
	body, err := json.Marshal(completionRequest{
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		RepeatPenalty: params.RepeatPenalty,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return fmt.Errorf("llama-server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	r.cancel = cancel
	r.body = resp.Body
	r.reader = bufio.NewReader(resp.Body)
	return nil
}

// Step reads SSE lines until one carries text or the stream ends.
func (r *serverRuntime) Step() (Token, error) {
	if r.reader == nil {
		return Token{Done: true}, nil
	}
	for {
		line, err := r.reader.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				r.endStream()
				return Token{Done: true}, nil
			}
			var chunk streamChunk
			if e := json.Unmarshal([]byte(data), &chunk); e != nil {
				r.endStream()
				return Token{}, fmt.Errorf("llama-server: bad stream chunk: %w", e)
			}
			if len(chunk.Choices) > 0 {
				c := chunk.Choices[0]
				text := c.Text
				if text == "" {
					text = c.Delta.Content
				}
				if text != "" {
					return Token{Text: text}, nil
				}
				if c.FinishReason != "" {
					r.endStream()
					return Token{Done: true}, nil
				}
			}
		}
		if err != nil {
			r.endStream()
			if errors.Is(err, io.EOF) {
				return Token{Done: true}, nil
			}
			return Token{}, err
		}
	}
}

func (r *serverRuntime) endStream() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
	r.reader = nil
}

func (r *serverRuntime) Reset() error {
	r.endStream()
	return nil
}

// Close stops the child process: SIGTERM first, SIGKILL after two seconds.
func (r *serverRuntime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.endStream()
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	_ = r.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-r.exited:
	case <-time.After(2 * time.Second):
		_ = r.cmd.Process.Kill()
		<-r.exited
	}
	r.log.Info().Int("pid", r.cmd.Process.Pid).Msg("event=server_stop")
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// discoverLlamaBin looks for llama-server in common install locations, then PATH.
func discoverLlamaBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		filepath.Join(home, "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}
