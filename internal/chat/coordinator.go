package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"chatmate/internal/events"
	"chatmate/internal/session"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptyInput rejects blank submissions.
	ErrEmptyInput = errors.New("chat: input is empty")
	// ErrBusy rejects a submission while a reply is still streaming.
	ErrBusy = errors.New("chat: a reply is still being generated")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chat: coordinator closed")
)

// Event names published by a Coordinator.
const (
	EventMessageAppended   = "message_appended"
	EventMessageUpdated    = "message_updated"
	EventMessageFinalized  = "message_finalized"
	EventTranscriptCleared = "transcript_cleared"
)

// Generator is the part of *session.Session the coordinator drives.
type Generator interface {
	Load(ctx context.Context, path string) error
	Generate(ctx context.Context, prompt string) (*session.Stream, error)
	CancelGeneration(id uint64)
}

// Config configures a Coordinator.
type Config struct {
	Session Generator
	Prompt  PromptBuilder
	// Greeting is appended as an assistant message after every successful
	// LoadModel. Empty disables it.
	Greeting  string
	Logger    *zerolog.Logger
	Publisher events.Publisher
}

// Coordinator owns the conversation log. Every mutation runs on its loop
// goroutine; public methods post commands to it and wait for the result.
// Observers read a snapshot the loop republishes after each change.
type Coordinator struct {
	cfg Config
	log zerolog.Logger
	pub events.Publisher

	cmds   chan command
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned
	msgs    []Message
	stream  *session.Stream
	target  int // index of the in-progress message, -1 when none
	waiters []chan struct{}

	viewMu     sync.RWMutex
	view       []Message
	generating bool
	lastErr    error
}

type command struct {
	fn    func() error
	reply chan error
}

// New starts a coordinator. Call Close to stop its loop.
func New(cfg Config) *Coordinator {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		log:    log,
		pub:    events.OrNop(cfg.Publisher),
		cmds:   make(chan command),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		target: -1,
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		var chunks <-chan string
		if c.stream != nil {
			chunks = c.stream.Chunks()
		}
		select {
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn()
		case frag, ok := <-chunks:
			if ok {
				c.appendFragment(frag)
			} else {
				c.finishStream()
			}
		case <-c.quit:
			c.detach(true)
			c.cancel()
			return
		}
	}
}

// do runs fn on the loop goroutine.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Submit appends text as a user message and starts a reply. It returns once
// the reply has started streaming; the log then grows on the loop goroutine.
// Blank text, a reply still in flight, or a session that is not ready reject
// the call and leave the log untouched.
func (c *Coordinator) Submit(ctx context.Context, text string) error {
	return c.do(ctx, func() error {
		input := strings.TrimSpace(text)
		if input == "" {
			return ErrEmptyInput
		}
		if c.stream != nil {
			return ErrBusy
		}
		prompt := c.cfg.Prompt.Build(c.msgs, input)
		st, err := c.cfg.Session.Generate(c.ctx, prompt)
		if err != nil {
			if session.IsAlreadyGenerating(err) {
				return ErrBusy
			}
			return err
		}
		c.append(newMessage(RoleUser, input))
		reply := newMessage(RoleAssistant, "")
		reply.GenerationID = st.ID()
		reply.InProgress = true
		c.append(reply)
		c.stream = st
		c.target = len(c.msgs) - 1
		c.setLastErr(nil)
		c.refresh()
		c.log.Debug().Uint64("gen_id", st.ID()).Int("prompt_len", len(prompt)).Msg("event=chat_submit")
		return nil
	})
}

// Stop cancels the reply in flight. Whatever was streamed so far stays as the
// final content; nothing is appended after Stop returns. It waits for the
// session to settle or ctx to end.
func (c *Coordinator) Stop(ctx context.Context) error {
	var done <-chan struct{}
	err := c.do(ctx, func() error {
		if c.stream == nil {
			return nil
		}
		done = c.stream.Done()
		c.detach(true)
		return nil
	})
	if err != nil || done == nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards the whole log. The session is not touched: a reply still
// streaming keeps running, but its remaining fragments have no message to
// land in and are dropped.
func (c *Coordinator) Clear(ctx context.Context) error {
	return c.do(ctx, func() error {
		n := len(c.msgs)
		c.msgs = nil
		c.target = -1
		c.refresh()
		c.pub.Publish(events.New(EventTranscriptCleared, map[string]any{"count": n}))
		return nil
	})
}

// LoadModel loads path into the session. On success the greeting, if any, is
// appended; on failure the error is also kept as LastError.
func (c *Coordinator) LoadModel(ctx context.Context, path string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	err := c.cfg.Session.Load(ctx, path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("event=chat_load_failed")
		c.setLastErr(err)
		return err
	}
	c.setLastErr(nil)
	if c.cfg.Greeting == "" {
		return nil
	}
	return c.do(ctx, func() error {
		c.append(newMessage(RoleAssistant, c.cfg.Greeting))
		c.refresh()
		return nil
	})
}

// Messages returns a copy of the log.
func (c *Coordinator) Messages() []Message {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	out := make([]Message, len(c.view))
	copy(out, c.view)
	return out
}

// IsGenerating reports whether a reply is being consumed.
func (c *Coordinator) IsGenerating() bool {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.generating
}

// LastError is the error of the last failed load or generation, cleared by
// the next successful Submit or LoadModel.
func (c *Coordinator) LastError() error {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.lastErr
}

// Wait blocks until no reply is being consumed.
func (c *Coordinator) Wait(ctx context.Context) error {
	var ch chan struct{}
	err := c.do(ctx, func() error {
		if c.stream != nil {
			ch = make(chan struct{})
			c.waiters = append(c.waiters, ch)
		}
		return nil
	})
	if err != nil || ch == nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any reply in flight and stops the loop. The session itself is
// left to its owner.
func (c *Coordinator) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

func (c *Coordinator) append(m Message) {
	c.msgs = append(c.msgs, m)
	c.pub.Publish(events.New(EventMessageAppended, map[string]any{"id": m.ID.String(), "role": string(m.Role)}))
}

func (c *Coordinator) appendFragment(frag string) {
	if c.target < 0 {
		return
	}
	m := c.msgs[c.target]
	m.Content += frag
	c.msgs[c.target] = m
	c.refresh()
	c.pub.Publish(events.New(EventMessageUpdated, map[string]any{"id": m.ID.String(), "fragment": frag}))
}

func (c *Coordinator) finishStream() {
	st := c.stream
	if err := st.Err(); err != nil {
		c.log.Warn().Err(err).Uint64("gen_id", st.ID()).Msg("event=chat_generation_failed")
		c.setLastErr(err)
	}
	c.detach(st.Cancelled())
}

// detach finalizes the in-progress message and stops consuming the stream.
func (c *Coordinator) detach(cancelled bool) {
	if c.stream == nil {
		return
	}
	id := c.stream.ID()
	if cancelled {
		c.cfg.Session.CancelGeneration(id)
	}
	if c.target >= 0 {
		m := c.msgs[c.target]
		m.InProgress = false
		c.msgs[c.target] = m
		c.pub.Publish(events.New(EventMessageFinalized, map[string]any{
			"id": m.ID.String(), "gen_id": id, "cancelled": cancelled,
		}))
	}
	c.stream = nil
	c.target = -1
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
	c.refresh()
}

func (c *Coordinator) refresh() {
	view := make([]Message, len(c.msgs))
	copy(view, c.msgs)
	c.viewMu.Lock()
	c.view = view
	c.generating = c.stream != nil
	c.viewMu.Unlock()
}

func (c *Coordinator) setLastErr(err error) {
	c.viewMu.Lock()
	c.lastErr = err
	c.viewMu.Unlock()
}
