package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chatmate/internal/chat"
	"chatmate/internal/common/fsutil"
	"chatmate/internal/config"
	"chatmate/internal/events"
	"chatmate/internal/model"
	"chatmate/internal/registry"
	"chatmate/internal/session"
)

// app is one session plus its coordinator, wired to a shared event bus.
type app struct {
	cfg  config.Config
	log  zerolog.Logger
	bus  *events.Bus
	sess *session.Session
	chat *chat.Coordinator
}

func newApp(cfg config.Config, log zerolog.Logger, backend model.Backend) *app {
	bus := events.NewBus()
	opts := cfg.ModelOptions()
	opts.Logger = &log
	sess := session.New(session.Config{
		Backend:   backend,
		Model:     opts,
		Sampling:  cfg.Sampling(),
		Logger:    &log,
		Publisher: bus,
	})
	c := chat.New(chat.Config{
		Session:   sess,
		Prompt:    cfg.PromptBuilder(),
		Greeting:  cfg.GreetingText(),
		Logger:    &log,
		Publisher: bus,
	})
	return &app{cfg: cfg, log: log, bus: bus, sess: sess, chat: c}
}

// newAppFromConfig looks the engine up by name.
func newAppFromConfig(cfg config.Config, log zerolog.Logger) (*app, error) {
	backend, err := model.Lookup(cfg.Engine)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log, backend), nil
}

// Close stops the coordinator first so no reply outlives the session.
func (a *app) Close() error {
	_ = a.chat.Close()
	return a.sess.Close()
}

// loadConfigured resolves the configured model and loads it.
func (a *app) loadConfigured(ctx context.Context) (string, error) {
	path, err := resolveModelPath(a.cfg)
	if err != nil {
		return "", err
	}
	a.log.Info().Str("path", path).Str("engine", a.cfg.Engine).Msg("loading model")
	return path, a.chat.LoadModel(ctx, path)
}

// searchDirs returns the configured search order or the default one.
func searchDirs(cfg config.Config) []string {
	if len(cfg.SearchDirs) > 0 {
		return cfg.SearchDirs
	}
	return registry.DefaultSearchDirs(cfg.ModelsDir)
}

// resolveModelPath picks model_path when set, otherwise resolves model in the
// search dirs. Files that are clearly truncated are rejected up front.
func resolveModelPath(cfg config.Config) (string, error) {
	if cfg.ModelPath != "" {
		p, err := fsutil.ExpandHome(cfg.ModelPath)
		if err != nil {
			return "", err
		}
		return p, nil
	}
	if cfg.Model == "" {
		return "", fmt.Errorf("no model configured (set model or model_path)")
	}
	p, err := registry.Resolve(cfg.Model, searchDirs(cfg))
	if err != nil {
		return "", err
	}
	if err := registry.CheckComplete(p, 0); err != nil {
		return "", err
	}
	return p, nil
}
