package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/config"
	"flight-deal-alerts/internal/delivery"
	"flight-deal-alerts/internal/engine"
	"flight-deal-alerts/internal/fetcher"
	"flight-deal-alerts/internal/governor"
	"flight-deal-alerts/internal/queue"
	"flight-deal-alerts/internal/scheduler"
	"flight-deal-alerts/internal/service"
	"flight-deal-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Source overrides the offer source. Tests only.
	Source fetcher.OfferSource
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	if a.Config.Database.MigrateOnStart {
		if err := storage.Migrate(a.Config.Database.DSN); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSource() (fetcher.OfferSource, error) {
	if a.Source != nil {
		return a.Source, nil
	}
	f := a.Config.Fetcher
	switch f.Kind {
	case "http":
		return fetcher.NewHTTPSource(fetcher.HTTPOptions{
			BaseURL:   f.BaseURL,
			Timeout:   f.Timeout,
			UserAgent: f.UserAgent,
		}, a.Logger), nil
	case "", "file":
		return fetcher.NewFileSource(f.Dir, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown fetcher.kind %q", f.Kind)
	}
}

func (a *App) newDeliverer() service.Deliverer {
	tg := a.Config.Delivery.Telegram
	if tg.Enabled {
		return delivery.NewTelegramDeliverer(delivery.TelegramOptions{
			BotToken: tg.BotToken,
			ChatIDs:  tg.ChatIDs,
			BaseURL:  tg.APIBase,
		}, a.Logger)
	}
	return logDeliverer{logger: a.Logger}
}

// logDeliverer stands in when no channel is enabled, so dry runs still
// exercise the full dispatch path.
type logDeliverer struct {
	logger zerolog.Logger
}

func (d logDeliverer) Deliver(_ context.Context, item queue.Item) error {
	d.logger.Info().
		Str("id", item.ID).
		Str("group", item.Group).
		Int("priority", item.Priority).
		Str("text", item.Text).
		Msg("delivery disabled, alert logged only")
	return nil
}

func (a *App) newService(store *storage.Store) (*service.Service, error) {
	source, err := a.newSource()
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Options{
		Stats:               store,
		Seen:                store,
		Channel:             a.Config.Sending.Channel,
		AlertKind:           a.Config.Engine.AlertKind,
		ConfidenceThreshold: a.Config.Engine.ConfidenceThreshold,
		DedupeTTL:           a.Config.Engine.DedupeTTL,
		Logger:              a.Logger,
	})

	windows, err := governor.ParseWindows(a.Config.Sending.Windows)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(a.Config.Sending.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	gov := governor.New(governor.Options{
		Windows:    windows,
		Location:   loc,
		MaxPerHour: a.Config.Sending.MaxPerHourGroup,
		MinSpacing: a.Config.Sending.MinSpacing(),
	}, store, a.Logger)

	return service.New(service.Options{
		Config:    a.Config,
		Store:     store,
		Source:    source,
		Engine:    eng,
		Governor:  gov,
		Deliverer: a.newDeliverer(),
		Snapshot:  queue.NewFileStore(a.Config.Queue.Path),
		Logger:    a.Logger,
	}), nil
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting watch service")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		cycleCtx := ctx
		if a.Config.Scheduler.CycleTimeout > 0 {
			var cancelCycle context.CancelFunc
			cycleCtx, cancelCycle = context.WithTimeout(ctx, a.Config.Scheduler.CycleTimeout)
			defer cancelCycle()
		}

		report, err := svc.RunCycle(cycleCtx, false)
		if errors.Is(err, service.ErrCycleLocked) {
			a.Logger.Warn().Msg("cycle lock held elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		logReport(a.Logger, report)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

func logReport(logger zerolog.Logger, report service.CycleReport) {
	ev := logger.Info().
		Int("attempts", report.Attempts).
		Int("skipped_cooldown", report.SkippedCooldown).
		Int("fetch_failures", report.FetchFailures).
		Int("enqueued", report.Enqueued).
		Int("sent", report.Sent).
		Int("pruned_sent", report.PrunedSent)
	for reason, count := range report.Reasons {
		ev = ev.Int("reason_"+string(reason), count)
	}
	ev.Msg("cycle report")
}

// CycleOptions configure the one-shot cycle command.
type CycleOptions struct {
	Origin string
	Dest   string
	Depart string
	Return string
	Force  bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting route price history.
type ExportOptions struct {
	Route     string
	TripType  string
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// ForgiveOptions configure early cooldown expiry.
type ForgiveOptions struct {
	Origin string
	Dest   string
}
