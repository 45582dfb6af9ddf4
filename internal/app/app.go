// Package app assembles the bot: worker transport, scheduler, message index,
// agent, and the admin chat surface that ties them together.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"wabot/internal/agent"
	"wabot/internal/bridge"
	"wabot/internal/config"
	"wabot/internal/index"
	"wabot/internal/runtime/supervisor"
	"wabot/internal/sched"
	"wabot/internal/storage"
	logx "wabot/pkg/logx"
)

// Signature appended to every outbound message so the bot recognizes its own
// text when the worker echoes it back.
const botSignature = "\n\n[BOT]"

// messenger is the slice of the worker transport the chat surface needs.
// *bridge.Client implements it; tests substitute a fake.
type messenger interface {
	SendMessage(ctx context.Context, phoneNumber, text, replyTo string) (bridge.Message, error)
	GetMessages(ctx context.Context, chatID string, limit int, startDate, endDate string) ([]bridge.Message, error)
	GetChats(ctx context.Context, limit int) ([]bridge.Chat, error)
	SearchMessages(ctx context.Context, query, chatID string, limit int) ([]bridge.Message, error)
	GetContact(ctx context.Context, phoneNumber string) (bridge.Contact, error)
}

type App struct {
	cfg    *config.Config
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store  storage.Store
	client *bridge.Client
	msgr   messenger
	sched  *sched.Service
	idx    *index.Service
	agent  *agent.Agent

	state *runtimeState
	sup   *supervisor.Supervisor
}

// New loads configuration and builds every component, stopping short of
// launching the worker process.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", configPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("svc", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		mgr:    mgr,
		logSvc: logSvc,
		log:    log,
		store:  store,
		state:  newRuntimeState(cfg.Admin.Numbers),
	}

	a.client = bridge.New(bridgeOptions(cfg.Bridge, log))
	a.msgr = a.client
	a.idx = index.New(store, log.With(logx.String("svc", "index")))

	schedCfg, err := schedConfig(cfg.Scheduler)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.sched = sched.New(schedCfg, store, a.deliver, log.With(logx.String("svc", "sched")))

	if cfg.Agent.Enabled {
		a.agent = a.buildAgent(cfg.Agent)
	}

	return a, nil
}

// Run starts everything and blocks until ctx is canceled or the worker
// transport dies.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log.With(logx.String("svc", "supervisor")))

	a.client.SetEventHandler(a.handleEvent)
	if err := a.client.Start(a.sup.Context()); err != nil {
		_ = a.shutdown()
		return fmt.Errorf("starting worker: %w", err)
	}

	// Chat log forwarding rides the same transport as everything else.
	a.logSvc.SetSendFunc(func(ctx context.Context, target, text string) error {
		_, err := a.msgr.SendMessage(ctx, target, text+botSignature, "")
		return err
	})

	if a.cfg.Scheduler.Enabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			_ = a.shutdown()
			return err
		}
	}

	a.sup.GoRestart("config-watch", a.mgr.Watch)
	a.sup.Go("config-apply", a.applyLoop)

	a.log.Info("bot running")

	select {
	case <-ctx.Done():
	case <-a.client.Done():
		a.log.Error("worker transport closed, shutting down")
	}
	return a.shutdown()
}

func (a *App) shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.sched != nil {
		_ = a.sched.Stop(stopCtx)
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.sup != nil {
		_ = a.sup.Stop(stopCtx)
	}
	err := a.store.Close()
	_ = a.logSvc.Close()
	return err
}

// applyLoop reacts to config file changes: log levels, admin list and agent
// settings apply live. Bridge and storage changes need a restart and only
// produce a notice.
func (a *App) applyLoop(ctx context.Context) error {
	updates := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logConfig(cfg.Logging))
	a.state.setAdmins(cfg.Admin.Numbers)

	if cfg.Agent.Enabled && a.agent == nil {
		a.agent = a.buildAgent(cfg.Agent)
	} else if !cfg.Agent.Enabled {
		a.agent = nil
	}

	if !equalBridge(cfg.Bridge, a.cfg.Bridge) || !equalStorage(cfg.Storage, a.cfg.Storage) {
		a.log.Warn("bridge/storage config changed; restart required to take effect")
	}
	a.cfg = cfg
	a.log.Info("configuration applied")
}

func (a *App) buildAgent(cfg config.AgentConfig) *agent.Agent {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "WABOT_API_KEY"
	}
	provider := agent.NewHTTPProvider(cfg.BaseURL, os.Getenv(keyEnv))
	reg := agent.NewRegistry()
	a.registerTools(reg)
	return agent.New(agent.Config{
		Model:         cfg.Model,
		MaxIterations: cfg.MaxIterations,
		HistorySize:   cfg.HistorySize,
	}, provider, reg, a.log.With(logx.String("svc", "agent")))
}

// deliver is the scheduler's delivery callback.
func (a *App) deliver(ctx context.Context, target, body string) error {
	_, err := a.sendText(ctx, target, body)
	return err
}

// sendText sends a signed message and remembers its id for the echo guard.
func (a *App) sendText(ctx context.Context, target, body string) (bridge.Message, error) {
	m, err := a.msgr.SendMessage(ctx, target, body+botSignature, "")
	if err != nil {
		return bridge.Message{}, err
	}
	a.state.rememberSent(m.ID)
	return m, nil
}

// ---- config mapping ----

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Chat.Enabled,
			Target:     c.Chat.Target,
			MinLevel:   c.Chat.MinLevel,
			RatePerSec: c.Chat.RatePerSec,
		},
	}
}

func storageConfig(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{Driver: "sqlite", Path: "./wabot.db"}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}
}

func bridgeOptions(c config.BridgeConfig, log logx.Logger) bridge.Options {
	startup, _ := config.ParseDurationOrDefault("bridge.startup_timeout", c.StartupTimeout, 2*time.Minute)
	call, _ := config.ParseDurationOrDefault("bridge.call_timeout", c.CallTimeout, 30*time.Second)
	return bridge.Options{
		Command:        c.Command,
		Args:           c.Args,
		SessionPath:    c.SessionPath,
		StartupTimeout: startup,
		CallTimeout:    call,
		Log:            log.With(logx.String("svc", "bridge")),
	}
}

func schedConfig(c config.SchedulerConfig) (sched.Config, error) {
	poll, err := config.ParseDurationField("scheduler.poll_interval", c.PollInterval)
	if err != nil {
		return sched.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.misfire_grace", c.MisfireGrace)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{
		Enabled:      c.Enabled,
		Timezone:     c.Timezone,
		PollInterval: poll,
		MisfireGrace: grace,
		HistorySize:  c.HistorySize,
	}, nil
}

func equalBridge(a, b config.BridgeConfig) bool {
	if a.Command != b.Command || a.SessionPath != b.SessionPath ||
		a.StartupTimeout != b.StartupTimeout || a.CallTimeout != b.CallTimeout ||
		len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}

func equalStorage(a, b *config.StorageConfig) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

func chatTarget(chatID string) string {
	return strings.TrimSuffix(chatID, "@c.us")
}
