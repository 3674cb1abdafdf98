// Package server wires configuration into a running backfill service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/api"
	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/clock/system"
	"github.com/JakeFAU/stockcrawler/internal/config"
	"github.com/JakeFAU/stockcrawler/internal/fetchgate"
	"github.com/JakeFAU/stockcrawler/internal/httpclient"
	"github.com/JakeFAU/stockcrawler/internal/id/uuid"
	"github.com/JakeFAU/stockcrawler/internal/logging"
	"github.com/JakeFAU/stockcrawler/internal/market"
	"github.com/JakeFAU/stockcrawler/internal/notify"
	"github.com/JakeFAU/stockcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/stockcrawler/internal/scheduler"
	"github.com/JakeFAU/stockcrawler/internal/sentinel"
	"github.com/JakeFAU/stockcrawler/internal/source/holiday"
	"github.com/JakeFAU/stockcrawler/internal/source/htmlquote"
	"github.com/JakeFAU/stockcrawler/internal/source/jsonapi"
	"github.com/JakeFAU/stockcrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/stockcrawler/internal/storage/postgres"
	"github.com/JakeFAU/stockcrawler/internal/tasks"
)

// Runner is a built backfill task.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
	Execute(ctx context.Context) (backfill.Summary, error)
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	gate      *fetchgate.Gate
	client    *httpclient.Client
	notifier  notify.Notifier
	sentinel  backfill.Sentinel
	clock     backfill.Clock
	scheduler *scheduler.Scheduler
	runLog    *memory.RunLog
	runStore  backfill.Recorder
	apiServer *api.Server
	runners   map[string]Runner

	pool  *pgxpool.Pool
	redis *redis.Client

	base       context.Context
	cancelBase context.CancelFunc
	closeOnce  sync.Once
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithClock overrides the clock every task computes its window from.
func WithClock(c backfill.Clock) Option {
	return func(a *App) { a.clock = c }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, runners: make(map[string]Runner), clock: system.New()}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
	}
	app.base, app.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
		zap.Stringer("timezone", loc),
	)

	app.setupFetching()
	app.setupNotifier()
	if err := app.setupSentinel(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	var schedOpts []scheduler.Option
	if cfg.Scheduler.Singleton {
		schedOpts = append(schedOpts, scheduler.WithSingleton())
	}
	app.scheduler = scheduler.New(loc, app.logger, schedOpts...)
	app.runLog = memory.NewRunLog(uuid.New(), memory.DefaultRunLogSize)

	if err := app.setupTasks(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	var apiKey string
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.base, app.scheduler, app.runLog, app.logger, api.Options{APIKey: apiKey})
	return app, nil
}

func (a *App) setupFetching() {
	a.gate = fetchgate.New(a.cfg.Fetch.MaxConcurrentRequests)
	a.logger.Info("fetch gate ready", zap.Int("max_concurrent_requests", a.gate.Capacity()))

	var limiter *ratelimit.Limiter
	if rl := a.cfg.Fetch.RateLimit; rl.Enabled {
		hosts := make(map[string]ratelimit.HostLimit, len(rl.Hosts))
		for _, h := range rl.Hosts {
			hosts[h.Host] = ratelimit.HostLimit{RPS: h.RPS, Burst: h.Burst}
		}
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   rl.DefaultRPS,
			DefaultBurst: rl.DefaultBurst,
			Hosts:        hosts,
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", rl.DefaultRPS),
			zap.Int("default_burst", rl.DefaultBurst),
			zap.Int("host_overrides", len(hosts)),
		)
	} else {
		a.logger.Info("rate limiter disabled")
	}

	a.client = httpclient.New(httpclient.Config{
		Timeout:   a.cfg.FetchTimeout(),
		UserAgent: a.cfg.Fetch.UserAgent,
	}, a.gate, limiter)
}

func (a *App) setupNotifier() {
	tg := a.cfg.Notify.Telegram
	if !tg.Enabled {
		a.notifier = notify.Log{Logger: a.logger.Named("notify")}
		return
	}
	telegram, err := notify.NewTelegram(a.client, notify.TelegramConfig{
		BaseURL:  tg.BaseURL,
		BotToken: tg.BotToken,
		ChatID:   tg.ChatID,
	})
	if err != nil {
		a.logger.Warn("telegram notifier disabled", zap.Error(err))
		a.notifier = notify.Log{Logger: a.logger.Named("notify")}
		return
	}
	a.notifier = telegram
	a.logger.Info("telegram notifier enabled")
}

func (a *App) setupSentinel(ctx context.Context) error {
	switch a.cfg.Cache.Backend {
	case "redis":
		client, err := sentinel.DialRedis(ctx, sentinel.RedisConfig{
			Addr:     a.cfg.Cache.Addr,
			Password: a.cfg.Cache.Password,
			DB:       a.cfg.Cache.DB,
		})
		if err != nil {
			return fmt.Errorf("sentinel cache init failed: %w", err)
		}
		a.redis = client
		a.sentinel = sentinel.NewRedis(client, a.cfg.Cache.Prefix, a.logger)
		a.logger.Info("using redis sentinel cache", zap.String("addr", a.cfg.Cache.Addr))
	default:
		a.sentinel = sentinel.NewMemory()
		a.logger.Info("using in-memory sentinel cache")
	}
	return nil
}

type stores struct {
	statements tasks.FinancialStatementStore
	quotes     backfill.Store[market.DailyQuote]
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory stores")
		stocks := memory.NewStocks()
		return stores{
			statements: memory.NewFinancialStatements(stocks),
			quotes:     memory.NewQuotes(stocks),
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	statements, err := pgstore.NewFinancialStatementStore(pool)
	if err != nil {
		return stores{}, err
	}
	quotes, err := pgstore.NewQuoteStore(pool)
	if err != nil {
		return stores{}, err
	}
	runs, err := pgstore.NewRunStore(pool, uuid.New(), a.logger.Named("runs"))
	if err != nil {
		return stores{}, err
	}
	a.runStore = runs
	a.logger.Info("postgres stores initialized")
	return stores{statements: statements, quotes: quotes}, nil
}

func (a *App) setupTasks(ctx context.Context) error {
	st, err := a.setupStores(ctx)
	if err != nil {
		return err
	}

	quarterCfg, quarterOn := a.taskConfig(tasks.FinancialStatementQuarterName)
	annualCfg, annualOn := a.taskConfig(tasks.FinancialStatementAnnualName)
	quoteCfg, quoteOn := a.taskConfig(tasks.DailyQuoteName)

	if quarterOn || annualOn {
		fsCfg := a.cfg.Sources.FinancialStatement
		if fsCfg.URLTemplate == "" {
			return errors.New("sources.financial_statement.url_template is required when a financial statement task is enabled")
		}
		src := jsonapi.NewFinancialStatements(a.client, jsonapi.Config{
			URLTemplate: fsCfg.URLTemplate,
			Charset:     fsCfg.Charset,
			RequireStat: fsCfg.RequireStat,
		})
		if quarterOn {
			s, err := settings(quarterCfg)
			if err != nil {
				return err
			}
			def := tasks.FinancialStatementQuarter(st.statements, src, s, a.logger)
			if err := register(a, def, quarterCfg.Schedule); err != nil {
				return err
			}
		}
		if annualOn {
			s, err := settings(annualCfg)
			if err != nil {
				return err
			}
			if err := register(a, tasks.FinancialStatementAnnual(st.statements, src, s), annualCfg.Schedule); err != nil {
				return err
			}
		}
	}

	if quoteOn {
		providers := make([]htmlquote.Provider, 0, len(a.cfg.Sources.Quote.Providers))
		for _, p := range a.cfg.Sources.Quote.Providers {
			providers = append(providers, htmlquote.Provider(p))
		}
		src, err := htmlquote.New(a.client, htmlquote.Config{Providers: providers, Timeout: a.cfg.FetchTimeout()})
		if err != nil {
			return fmt.Errorf("quote source init failed: %w", err)
		}
		var calendar tasks.HolidayCalendar
		if tmpl := a.cfg.Sources.Holiday.URLTemplate; tmpl != "" {
			calendar = holiday.New(a.client, tmpl, a.notifier, a.logger)
		}
		s, err := settings(quoteCfg)
		if err != nil {
			return err
		}
		if err := register(a, tasks.DailyQuote(st.quotes, src, calendar, s, a.logger), quoteCfg.Schedule); err != nil {
			return err
		}
	}

	if len(a.runners) == 0 {
		a.logger.Warn("no tasks enabled")
	}
	return nil
}

func (a *App) taskConfig(name string) (config.TaskConfig, bool) {
	tc, ok := a.cfg.Tasks[name]
	return tc, ok && tc.Enabled
}

func settings(tc config.TaskConfig) (tasks.Settings, error) {
	policy, err := backfill.ParseMarkPolicy(tc.MarkPolicy)
	if err != nil {
		return tasks.Settings{}, err
	}
	return tasks.Settings{TTL: tc.TTL, MarkPolicy: policy, Parallelism: tc.Parallelism}, nil
}

func register[R backfill.Record](a *App, def backfill.Definition[R], schedule string) error {
	task, err := backfill.New(def, a.sentinel,
		backfill.WithClock(a.clock),
		backfill.WithLogger(a.logger.Named("backfill")),
		backfill.WithRecorder(a.runLog),
		backfill.WithRecorder(a.runStore),
	)
	if err != nil {
		return err
	}
	if err := a.scheduler.Register(schedule, task); err != nil {
		return fmt.Errorf("register %s: %w", task.Name(), err)
	}
	a.runners[task.Name()] = task
	a.logger.Info("task registered",
		zap.String("task", task.Name()),
		zap.String("schedule", schedule),
		zap.String("sentinel_key", task.SentinelKey()),
	)
	return nil
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Triggers lists the registered trigger table.
func (a *App) Triggers() []scheduler.TriggerInfo {
	return a.scheduler.Triggers()
}

// RunTask executes one task synchronously and returns its summary.
func (a *App) RunTask(ctx context.Context, name string) (backfill.Summary, error) {
	r, ok := a.runners[name]
	if !ok {
		return backfill.Summary{}, fmt.Errorf("%w: %s", scheduler.ErrUnknownTask, name)
	}
	return r.Execute(ctx)
}

// StartupMessage is sent to the notifier when the service starts.
func StartupMessage() string {
	return fmt.Sprintf("stockcrawler started\r\nGo OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
}

// Run starts the scheduler and the ops server and blocks until the context
// is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	go notify.Fire(a.base, a.notifier, a.logger, StartupMessage())
	a.logger.Info("application started")

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops the scheduler, waits for manual runs and releases
// connections. Later calls are no-ops.
func (a *App) Close(_ context.Context) error {
	a.closeOnce.Do(func() {
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		a.cancelBase()
		if a.apiServer != nil {
			a.apiServer.Wait()
		}
		a.cleanup()
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) cleanup() {
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
}
