package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/esteira/internal/agent"
	"github.com/rahul/esteira/internal/gateway"
	"github.com/rahul/esteira/internal/governance"
	"github.com/rahul/esteira/internal/observability"
	"github.com/rahul/esteira/internal/pipeline"
	"github.com/rahul/esteira/internal/store"
	"github.com/rahul/esteira/pkg/config"
)

// engine is one orchestrator with its store, sinks and gateways wired up.
type engine struct {
	cfg      *config.Config
	orch     *pipeline.Orchestrator
	store    *store.SessionStore
	index    *store.Index
	hub      *gateway.Hub
	terminal *gateway.Terminal
	logger   *observability.Logger
	gateways []gateway.Messenger
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// newInvoker builds the agent backend selected by the config.
func newInvoker(cfg *config.Config) (pipeline.Invoker, error) {
	switch cfg.Agent.Backend {
	case "llm":
		model, name, err := newModel(cfg)
		if err != nil {
			return nil, err
		}
		return agent.NewLLMClient(model, name), nil
	default:
		client := agent.NewClient(cfg.Agent.Binary, cfg.Agent.Args...)
		client.SystemPromptFlag = cfg.Agent.SystemPromptFlag
		client.Dir = cfg.App.Workspace
		return client, nil
	}
}

func newModel(cfg *config.Config) (llms.Model, string, error) {
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, "", errors.New("no enabled provider found in config")
	}

	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, "", err
		}
		return llm, pName + "/" + pCfg.Model, nil
	}
	return nil, "", fmt.Errorf("provider %s not yet implemented", pName)
}

func newEngine(cfg *config.Config, stream bool) (*engine, error) {
	sessions, err := store.NewSessionStore(cfg.App.Workspace)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:    cfg,
		store:  sessions,
		hub:    gateway.NewHub(),
		logger: observability.NewLogger(cfg.Pipeline.LogPath),
	}
	e.hub.Add("log", gateway.LogSink{Logger: e.logger})

	if cfg.Memory.Type == "sqlite" && cfg.Memory.Path != "" {
		idx, err := store.NewIndex(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		e.index = idx
		sessions.Index = idx
		e.hub.Add("index", idx)
	}

	invoker, err := newInvoker(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}

	variants, err := pipeline.LoadVariants(cfg.Pipeline.VariantsFile)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.orch = pipeline.New(pipeline.Config{
		Variants:      variants,
		Approvals:     cfg.Pipeline.Approvals,
		Timeout:       cfg.Agent.Timeout.Duration,
		Retries:       cfg.Agent.Retries,
		MaxRejections: cfg.Pipeline.MaxRejections,
	}, pipeline.Deps{
		Agent:   invoker,
		Prompts: agent.NewPromptManager(cfg.Agent.PromptsDir),
		Store:   sessions,
		Events:  e.hub,
		Policy:  governance.NewArtifactPolicy(),
	})

	e.terminal = gateway.NewTerminal(os.Stdout, stream)
	e.hub.Add("terminal", e.terminal)
	return e, nil
}

// startGateways connects the enabled chat gateways. A gateway that fails to
// connect is logged and skipped.
func (e *engine) startGateways(stop context.CancelFunc) {
	if tgCfg, ok := e.cfg.GetTelegramConfig(); ok {
		chatID, _ := strconv.ParseInt(tgCfg.ChatID, 10, 64)
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, chatID, e.orch)
		if err != nil {
			log.Printf("[Gateway] Telegram disabled: %v", err)
		} else {
			e.gateways = append(e.gateways, tg)
			e.hub.Add("telegram", gateway.MessengerSink{Messenger: tg, ChatID: tgCfg.ChatID})
		}
	}
	if dcCfg, ok := e.cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, dcCfg.ChatID, e.orch)
		if err != nil {
			log.Printf("[Gateway] Discord disabled: %v", err)
		} else {
			e.gateways = append(e.gateways, dc)
			e.hub.Add("discord", gateway.MessengerSink{Messenger: dc, ChatID: dcCfg.ChatID})
		}
	}

	for _, g := range e.gateways {
		go func(g gateway.Messenger) {
			if err := g.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}(g)
	}
}

// dashboard keeps the live status line and heartbeat going until ctx is done.
func (e *engine) dashboard(ctx context.Context) {
	status := time.NewTicker(1 * time.Second)
	defer status.Stop()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-status.C:
			if observability.IsTerminal() {
				observability.PrintLiveStatus()
			}
		case <-heartbeat.C:
			observability.Heartbeat()
			e.logger.LogHeartbeat()
		}
	}
}

// watchConfig feeds approval changes in the config file to the running
// pipeline.
func (e *engine) watchConfig(ctx context.Context, path string) {
	if path == "" {
		return
	}
	go func() {
		err := config.Watch(ctx, path, func(c *config.Config) {
			if len(c.Pipeline.Approvals) > 0 {
				e.orch.UpdateApprovalConfig(c.Pipeline.Approvals)
			}
		})
		if err != nil {
			log.Printf("[Config] Not watching %s: %v", path, err)
		}
	}()
}

// wait blocks until the run stops or ctx is done and returns the final state.
func (e *engine) wait(ctx context.Context) *pipeline.State {
	done := make(chan struct{})
	go func() {
		e.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return e.orch.State()
}

func (e *engine) Close() {
	for _, g := range e.gateways {
		g.Stop()
	}
	if e.orch != nil {
		e.orch.Close()
	}
	e.hub.Close()
	if e.index != nil {
		e.index.Close()
	}
}
