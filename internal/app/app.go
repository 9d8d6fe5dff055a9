package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/bot"
	"market-trend-alerts/internal/config"
	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/push"
	"market-trend-alerts/internal/scheduler"
	"market-trend-alerts/internal/session"
	"market-trend-alerts/internal/storage"
	"market-trend-alerts/internal/telegram"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newTelegramClient() *telegram.Client {
	return telegram.NewClient(telegram.Options{
		BotToken:    a.Config.Telegram.BotToken,
		APIBase:     a.Config.Telegram.APIBase,
		Timeout:     a.Config.Telegram.RequestTimeout,
		PollTimeout: a.Config.Telegram.PollTimeout,
	}, a.Logger)
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		LookbackWindow: a.Config.Engine.LookbackWindow,
		Materiality:    a.Config.Engine.Materiality,
		CleanupFloor:   a.Config.Engine.CleanupFloor,
	}
}

// Run executes the long-running bot service: the Telegram update loop, the
// reconcile, cleanup and push-reminder sweeps, and the optional metrics
// endpoint. The first component to fail stops the rest.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token must be configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn must be configured")
	}
	defer closeStore()

	// one instance per database; a second copy polling the same bot token
	// would double every notification
	unlock, locked, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return err
	}
	if !locked {
		return errors.New("another instance already holds the advisory lock")
	}
	defer unlock()

	client := a.newTelegramClient()
	notifier := alerting.NewTelegramNotifier(client, a.Logger)

	eng := engine.New(store, store, store, notifier, a.engineOptions(), a.Logger)
	sessions := session.NewStore(a.Config.Telegram.SessionTTL)
	router := bot.New(client, eng, store, store, store, sessions, a.Logger)
	reminder := push.NewReminder(store, store, store, notifier, a.Config.Engine.PushStaleAfter, a.Logger)

	if err := eng.ResumeTimers(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("failed to resume timers; the cleanup sweep will catch up")
	}

	errCh := make(chan error, 5)

	go func() {
		errCh <- router.Run(ctx)
	}()

	go func() {
		sweep := scheduler.New(scheduler.Options{
			Name:         "reconcile",
			Interval:     a.Config.Scheduler.SweepInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		errCh <- sweep.Run(ctx, func(ctx context.Context) error {
			sessions.Purge()
			return eng.Sweep(ctx)
		})
	}()

	go func() {
		cleanup := scheduler.New(scheduler.Options{
			Name:         "cleanup",
			Interval:     a.Config.Scheduler.CleanupInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		errCh <- cleanup.Run(ctx, eng.Cleanup)
	}()

	go func() {
		reminders := scheduler.New(scheduler.Options{
			Name:         "push",
			Interval:     a.Config.Scheduler.PushInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		errCh <- reminders.Run(ctx, reminder.Sweep)
	}()

	if a.Config.Metrics.Enabled {
		a.serveMetrics(ctx, errCh)
	}

	a.Logger.Info().Msg("starting alert service")
	err = <-errCh
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Resource  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Resource string
	Window   time.Duration
}

// SimulateOptions configure the dry-run alert flow.
type SimulateOptions struct {
	Resource  string
	Direction string
	Target    float64
	StartBuy  float64
	EndBuy    float64
	Minutes   int
}
