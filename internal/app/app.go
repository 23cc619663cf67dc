package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"subgate/internal/config"
	"subgate/internal/draft"
	"subgate/internal/gate"
	"subgate/internal/publish"
	"subgate/internal/session"
	"subgate/internal/storage"
	kit "subgate/internal/transport"
	telegram "subgate/internal/transport/telegram/adapter"
	logx "subgate/pkg/logx"
)

// App owns the whole bot: transport, storage, the submission engine and the
// background jobs around them.
type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	gate    *gate.Gate
	adapter kit.Adapter
	engine  *session.Engine
	pub     *publish.Publisher

	cron    *cron.Cron
	sweep   time.Duration
	updates chan kit.Update

	disp *dispatcher

	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	g, err := gate.New(context.Background(), store, cfg.Telegram.OwnerID, log.With(logx.String("comp", "gate")))
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	netTimeout, err := config.ParseDurationOrDefault("bot.net_timeout", cfg.Bot.NetTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := config.ParseDurationOrDefault("bot.session_ttl", cfg.Bot.SessionTTL, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	pub, err := publish.New(ad, store, publish.Config{
		Channel:        cfg.Telegram.Channel,
		OwnerID:        cfg.Telegram.OwnerID,
		NotifyOwner:    cfg.Bot.NotifyOwner,
		ShowSubmitter:  cfg.Bot.ShowSubmitter,
		NetTimeout:     netTimeout,
		SendRatePerSec: float64(cfg.Bot.SendRatePerSec),
		SessionTTL:     sessionTTL,
	}, log.With(logx.String("comp", "publish")))
	if err != nil {
		return nil, err
	}
	sweepInterval, err := config.ParseDurationOrDefault("bot.sweep_interval", cfg.Bot.SweepInterval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	mode, err := draft.ParseMode(cfg.Bot.Mode)
	if err != nil {
		return nil, err
	}

	eng := session.NewEngine(store, pub, session.Config{
		Mode:       mode,
		MaxTags:    cfg.Bot.MaxTags,
		SessionTTL: sessionTTL,
	}, log.With(logx.String("comp", "session")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		gate:    g,
		adapter: ad,
		engine:  eng,
		pub:     pub,
		sweep:   sweepInterval,
		updates: make(chan kit.Update, 256),
	}
	a.disp = newDispatcher(a, log.With(logx.String("comp", "dispatch")))
	eng.SetProgressFunc(func(ctx context.Context, chatID int64, text string) {
		a.reply(ctx, chatID, text)
	})
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)

	if err := a.adapter.Start(a.runCtx, a.updates); err != nil {
		return err
	}

	go a.updateLoop(a.runCtx)
	go a.watchConfig(a.runCtx)

	a.cron = cron.New()
	ttl := a.engineTTL()
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.sweep), func() {
		sctx, cancel := context.WithTimeout(a.runCtx, 30*time.Second)
		defer cancel()
		n, err := a.store.SweepExpired(sctx, ttl)
		if err != nil {
			a.log.Warn("draft sweep failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("expired drafts swept", logx.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	a.cron.Start()

	a.log.Info("started", logx.Duration("sweep_interval", a.sweep))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop failed", logx.Err(err))
	}
	a.disp.wait(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) engineTTL() time.Duration {
	cfg := a.cfgm.Get()
	ttl, err := config.ParseDurationOrDefault("bot.session_ttl", cfg.Bot.SessionTTL, 15*time.Minute)
	if err != nil {
		return 15 * time.Minute
	}
	return ttl
}

func (a *App) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			a.disp.dispatch(ctx, up.Message)
		}
	}
}

// watchConfig applies live logging changes. Everything else needs a restart
// and is only reported.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-sub:
			if cfg == nil {
				continue
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded; logging settings applied")
		}
	}
}

// reply sends a plain HTML message back to the user's chat.
func (a *App) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := a.adapter.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
