package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatmate/internal/chat"
	"chatmate/internal/common/fsutil"
	"chatmate/internal/session"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE"))
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			// Keep engine chatter out of the conversation unless asked for.
			if !cmd.Flags().Changed("log-level") && cfg.LogLevel == "info" {
				log = log.Level(zerolog.WarnLevel)
			}
			a, err := newAppFromConfig(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, bannerStyle.Render("ChatMate")+" "+infoStyle.Render("(offline, on-device)"))
			r := &repl{app: a, out: out}
			fmt.Fprintln(out, infoStyle.Render("Loading model..."))
			if path, err := a.loadConfigured(cmd.Context()); err != nil {
				fmt.Fprintln(out, warnStyle.Render("Model not loaded: "+err.Error()))
				fmt.Fprintln(out, infoStyle.Render("Use /load <name|path> to try another model."))
			} else {
				st := a.sess.Status()
				if st.Model != nil {
					fmt.Fprintln(out, infoStyle.Render("Loaded "+st.Model.String()))
				} else {
					fmt.Fprintln(out, infoStyle.Render("Loaded "+path))
				}
				r.printNew()
			}
			return r.run(cmd.Context())
		},
	}
}

// repl drives the coordinator from a terminal.
type repl struct {
	app  *app
	out  io.Writer
	seen int // messages already printed
}

func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chatmate", "history")
}

func (r *repl) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	hist := historyFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if err := os.MkdirAll(filepath.Dir(hist), 0o700); err != nil {
			return
		}
		if f, err := os.OpenFile(hist, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Fprintln(r.out, infoStyle.Render("Type a message, or /help. Ctrl+C stops a reply; Ctrl+D quits."))
	for {
		input, err := line.Prompt(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF ends the session.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if strings.HasPrefix(input, "/") {
			if quit := r.command(ctx, input); quit {
				return nil
			}
			continue
		}
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		err = r.turn(ctx, input, interrupt)
		signal.Stop(interrupt)
		if err != nil {
			fmt.Fprintln(r.out, warnStyle.Render(describe(err)))
		}
	}
}

// turn submits input and prints the reply as it streams. A value on
// interrupt stops the reply; what was printed so far stays.
func (r *repl) turn(ctx context.Context, input string, interrupt <-chan os.Signal) error {
	sub, unsubscribe := r.app.bus.Subscribe(4096)
	defer unsubscribe()
	if err := r.app.chat.Submit(ctx, input); err != nil {
		return err
	}
	msgs := r.app.chat.Messages()
	reply := msgs[len(msgs)-1]
	r.seen = len(msgs)
	id := reply.ID.String()
	fmt.Fprint(r.out, replyStyle.Render("ai> "))

	printed := 0
	flushContent := func() {
		c := r.contentOf(id)
		if len(c) > printed {
			fmt.Fprint(r.out, c[printed:])
			printed = len(c)
		}
	}
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.Fields["id"] != id {
				continue
			}
			switch ev.Name {
			case chat.EventMessageUpdated:
				flushContent()
			case chat.EventMessageFinalized:
				flushContent()
				fmt.Fprintln(r.out)
				if cancelled, _ := ev.Fields["cancelled"].(bool); cancelled {
					fmt.Fprintln(r.out, warnStyle.Render("[stopped]"))
					return nil
				}
				return r.app.chat.LastError()
			}
		case <-interrupt:
			if err := r.app.chat.Stop(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = r.app.chat.Stop(context.Background())
			return ctx.Err()
		}
	}
}

func (r *repl) contentOf(id string) string {
	msgs := r.app.chat.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID.String() == id {
			return msgs[i].Content
		}
	}
	return ""
}

// printNew prints messages appended since the last call (the greeting).
func (r *repl) printNew() {
	msgs := r.app.chat.Messages()
	for _, m := range msgs[min(r.seen, len(msgs)):] {
		r.printMessage(m)
	}
	r.seen = len(msgs)
}

func (r *repl) printMessage(m chat.Message) {
	if m.Role == chat.RoleUser {
		fmt.Fprintln(r.out, userStyle.Render("you> ")+m.Content)
		return
	}
	fmt.Fprintln(r.out, replyStyle.Render("ai> ")+m.Content)
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/?":
		for _, l := range [][2]string{
			{"/clear", "discard the conversation"},
			{"/history", "print the conversation"},
			{"/status", "show session state and model"},
			{"/load <name|path>", "load another model"},
			{"/quit", "leave"},
		} {
			fmt.Fprintf(r.out, "  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-18s", l[0])), infoStyle.Render(l[1]))
		}
	case "/clear":
		if err := r.app.chat.Clear(ctx); err != nil {
			fmt.Fprintln(r.out, warnStyle.Render(describe(err)))
			return false
		}
		r.seen = 0
		fmt.Fprintln(r.out, infoStyle.Render("Conversation cleared."))
	case "/history":
		msgs := r.app.chat.Messages()
		if len(msgs) == 0 {
			fmt.Fprintln(r.out, infoStyle.Render("(empty)"))
		}
		for _, m := range msgs {
			r.printMessage(m)
		}
		r.seen = len(msgs)
	case "/status":
		r.printStatus()
	case "/load":
		if arg == "" {
			fmt.Fprintln(r.out, warnStyle.Render("usage: /load <name|path>"))
			return false
		}
		cfg := r.app.cfg
		cfg.Model, cfg.ModelPath = arg, ""
		if p, err := fsutil.ExpandHome(arg); err == nil && fsutil.IsRegularFile(p) {
			cfg.ModelPath = p
		}
		path, err := resolveModelPath(cfg)
		if err == nil {
			fmt.Fprintln(r.out, infoStyle.Render("Loading "+path+"..."))
			err = r.app.chat.LoadModel(ctx, path)
		}
		if err != nil {
			fmt.Fprintln(r.out, warnStyle.Render(describe(err)))
			return false
		}
		r.printStatus()
		r.printNew()
	default:
		fmt.Fprintln(r.out, warnStyle.Render("unknown command "+name+" (try /help)"))
	}
	return false
}

func (r *repl) printStatus() {
	st := r.app.sess.Status()
	line := "state=" + string(st.State)
	if st.Reason != "" {
		line += " reason=" + st.Reason
	}
	line += fmt.Sprintf(" generation=%d messages=%d", st.GenerationID, len(r.app.chat.Messages()))
	fmt.Fprintln(r.out, infoStyle.Render(line))
	if st.Model != nil {
		fmt.Fprintln(r.out, infoStyle.Render("model: "+st.Model.String()))
	}
}

// describe turns errors into a one-line hint for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "A reply is still being generated."
	case session.IsNotReady(err):
		return "No model is ready: " + err.Error()
	}
	return "Error: " + err.Error()
}
