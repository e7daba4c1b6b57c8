package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"comic-deal-alerts/internal/alerting"
	"comic-deal-alerts/internal/config"
	"comic-deal-alerts/internal/feed"
	"comic-deal-alerts/internal/matching"
	"comic-deal-alerts/internal/metrics"
	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/scheduler"
	"comic-deal-alerts/internal/service"
	"comic-deal-alerts/internal/storage"
	"comic-deal-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFeed() feed.Source {
	userAgent := a.Config.Feed.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return feed.NewHTTP(feed.HTTPOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Path:      a.Config.Feed.Path,
		Limit:     a.Config.Feed.PageLimit,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: userAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Fanout
	for _, ch := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "log":
			out = append(out, alerting.NewLogNotifier(a.Logger))
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		}
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
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

// openBook loads the persisted rule set. With no store the book is in-memory only.
func (a *App) openBook(ctx context.Context, store *storage.Store, m *metrics.Metrics) (*service.RuleBook, error) {
	var repo storage.RuleRepository
	if store != nil {
		repo = store
	}

	book := service.NewRuleBook(rules.NewStore(), repo, m, a.Logger)
	if _, err := book.Load(ctx); err != nil {
		return nil, err
	}
	return book, nil
}

// requireStore opens the store and fails when no database is configured.
func (a *App) requireStore(ctx context.Context, action string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot " + action)
	}
	return store, closeStore, nil
}

// newService wires the polling service around an already loaded rule book.
func (a *App) newService(sched *scheduler.Scheduler, source feed.Source, book *service.RuleBook, store *storage.Store, m *metrics.Metrics) *service.Service {
	var matches storage.MatchStore
	if store != nil {
		matches = store
	}

	return service.New(a.Config, service.Deps{
		Scheduler: sched,
		Feed:      source,
		Book:      book,
		Engine:    matching.NewEngine(),
		Matches:   matches,
		Notifier:  a.newNotifier(),
		Metrics:   m,
	}, a.Logger)
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Feed.BaseURL == "" {
		return errors.New("feed.base_url not configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
	}

	book, err := a.openBook(ctx, store, m)
	if err != nil {
		return err
	}
	if counts := book.Counts(); counts.Active == 0 {
		a.Logger.Warn().Int("paused", counts.Paused).Msg("no active rules; deals will not match until one is added")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)

	svc := a.newService(sched, a.newFeed(), book, store, m)

	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		srv := metrics.NewServer(a.Config.Metrics.Addr, a.Config.Metrics.Path, m, a.Logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	g.Go(func() error {
		return svc.Run(gctx)
	})

	a.Logger.Info().Str("version", version.String()).Msg("starting deal watch service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("deal watch service stopped")
	return nil
}

// ExportOptions hold parameters for exporting match history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// MatchesOptions configure the matches command.
type MatchesOptions struct {
	Limit int
	// PruneOlderThan deletes history older than this age before listing.
	PruneOlderThan time.Duration
}

// RuleOptions carry raw rule form input from the CLI.
type RuleOptions struct {
	SeriesID     string
	IssueNumber  string
	MinDealScore string
}

// SimulateOptions describe one synthetic deal.
type SimulateOptions struct {
	SeriesID    string
	IssueNumber string
	DealScore   string
	ListingID   string
	// MinDealScore, when set, evaluates against a one-off rule instead of the
	// persisted rule set.
	MinDealScore string
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	File   string
	DryRun bool
}
