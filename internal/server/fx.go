// Package server builds the snapshot service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/annotate"
	"github.com/JakeFAU/radar-snapshot/internal/api"
	"github.com/JakeFAU/radar-snapshot/internal/clock/system"
	"github.com/JakeFAU/radar-snapshot/internal/config"
	"github.com/JakeFAU/radar-snapshot/internal/consent"
	"github.com/JakeFAU/radar-snapshot/internal/hash/sha256"
	"github.com/JakeFAU/radar-snapshot/internal/id/uuid"
	"github.com/JakeFAU/radar-snapshot/internal/logging"
	pubsubnotify "github.com/JakeFAU/radar-snapshot/internal/notify/pubsub"
	"github.com/JakeFAU/radar-snapshot/internal/pipeline"
	"github.com/JakeFAU/radar-snapshot/internal/probe"
	"github.com/JakeFAU/radar-snapshot/internal/renderer/headless"
	"github.com/JakeFAU/radar-snapshot/internal/scheduler"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
	gcsstorage "github.com/JakeFAU/radar-snapshot/internal/storage/gcs"
	localstorage "github.com/JakeFAU/radar-snapshot/internal/storage/local"
	memorystorage "github.com/JakeFAU/radar-snapshot/internal/storage/memory"
	redisstorage "github.com/JakeFAU/radar-snapshot/internal/storage/redis"
	"github.com/JakeFAU/radar-snapshot/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     snapshot.Store
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	redis           *goredis.Client
	tracerShutdown  func(context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock    snapshot.Clock
	logger   *zap.Logger
	renderer snapshot.Renderer
	notifier snapshot.Notifier
}

// WithClock replaces the wall clock used for labels.
func WithClock(clock snapshot.Clock) Option {
	return func(o *buildOptions) { o.clock = clock }
}

// WithLogger skips logger construction from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRenderer replaces the headless Chrome renderer.
func WithRenderer(renderer snapshot.Renderer) Option {
	return func(o *buildOptions) { o.renderer = renderer }
}

// WithNotifier replaces the configured publish notifier.
func WithNotifier(notifier snapshot.Notifier) Option {
	return func(o *buildOptions) { o.notifier = notifier }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := buildOptions{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("target", cfg.Target.URL),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Duration("period", cfg.Period()),
	)

	if err := app.build(ctx, o); err != nil {
		app.closeInfrastructure(context.Background())
		app.closeObservability(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o buildOptions) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{ServiceName: a.cfg.Tracing.ServiceName})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
		a.logger.Info("tracing enabled", zap.String("service", a.cfg.Tracing.ServiceName))
	}

	store, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	a.store = store

	notifier := o.notifier
	if notifier == nil {
		notifier, err = setupNotifier(ctx, a)
		if err != nil {
			return err
		}
	}

	renderer := o.renderer
	if renderer == nil {
		renderer, err = setupRenderer(a.cfg, a.logger)
		if err != nil {
			return err
		}
	}

	labeler, annotator, err := setupAnnotator(a.cfg)
	if err != nil {
		return err
	}

	var prober snapshot.Prober
	if a.cfg.Probe.Enabled {
		prober = probe.New(probe.Config{
			UserAgent: firstNonEmpty(a.cfg.Probe.UserAgent, a.cfg.Headless.UserAgent),
			Timeout:   time.Duration(a.cfg.Probe.TimeoutSeconds) * time.Second,
		})
		a.logger.Info("pre-flight probe enabled", zap.Int("timeout_seconds", a.cfg.Probe.TimeoutSeconds))
	}

	a.pipeline = pipeline.New(
		renderer,
		annotator,
		labeler,
		store,
		notifier,
		prober,
		o.clock,
		uuid.New(),
		sha256.New(),
		pipeline.Config{TargetURL: a.cfg.Target.URL, RunTimeout: a.cfg.RunTimeout()},
		a.logger.Named("pipeline"),
	)

	var schedOpts []scheduler.Option
	if !a.cfg.Schedule.RunOnStart {
		schedOpts = append(schedOpts, scheduler.WithoutStartupRun())
	}
	a.scheduler, err = scheduler.New(a.pipeline, a.cfg.Period(), a.logger.Named("scheduler"), schedOpts...)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	a.apiServer = api.NewServer(
		store,
		a.scheduler,
		a.pipeline,
		api.Config{
			SnapshotRoute:   a.cfg.Server.SnapshotRoute,
			RefreshInterval: time.Duration(a.cfg.Server.RefreshIntervalSeconds) * time.Second,
			RequestTimeout:  time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
		},
		a.logger.Named("api"),
	)
	return nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Pipeline returns the snapshot pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Capture performs a single pipeline run without the scheduler or server.
func (a *App) Capture(ctx context.Context) (snapshot.Result, error) {
	res, err := a.pipeline.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("capture: %w", err)
	}
	return res, nil
}

// Run starts the scheduler and HTTP server and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := a.scheduler.Run(ctx); err != nil {
			a.logger.Error("scheduler error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("in-flight run did not finish before shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	return closeErr
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	// Sync fails on stdout/stderr for some platforms; nothing useful to do about it.
	_ = a.logger.Sync()
}

func setupStorage(ctx context.Context, app *App) (snapshot.Store, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCS.Bucket,
			Object: app.cfg.Storage.GCS.Object,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("uri", store.URI()))
		return store, nil
	case "redis":
		app.logger.Info("using redis storage backend")
		redisCfg := redisstorage.Config{
			Addr:     app.cfg.Storage.Redis.Addr,
			Password: app.cfg.Storage.Redis.Password,
			DB:       app.cfg.Storage.Redis.DB,
			Key:      app.cfg.Storage.Redis.Key,
		}
		var err error
		app.redis, err = redisstorage.Dial(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("redis client init failed: %w", err)
		}
		store, err := redisstorage.New(app.redis, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("redis snapshot store init failed: %w", err)
		}
		app.logger.Debug("redis storage backend", zap.String("addr", redisCfg.Addr), zap.String("key", redisCfg.Key))
		return store, nil
	case "memory":
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewStore(), nil
	default:
		app.logger.Info("using local storage backend")
		store, err := localstorage.New(localstorage.Config{Path: app.cfg.Storage.Local.Path})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", store.Path()))
		return store, nil
	}
}

func setupNotifier(ctx context.Context, app *App) (snapshot.Notifier, error) {
	if app.cfg.Notify.PubSub.TopicName == "" || app.cfg.Notify.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, publish notifications disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Notify.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.Notify.PubSub.TopicName)
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", app.cfg.Notify.PubSub.ProjectID),
		zap.String("topic", app.cfg.Notify.PubSub.TopicName),
	)
	return pubsubnotify.New(app.pubsubPublisher), nil
}

func setupRenderer(cfg config.Config, logger *zap.Logger) (*headless.Renderer, error) {
	var suppressor *consent.Suppressor
	if cfg.Consent.Enabled {
		cookies := make([]consent.Cookie, 0, len(cfg.Consent.Cookies))
		for _, c := range cfg.Consent.Cookies {
			cookies = append(cookies, consent.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
		}
		suppressor = consent.New(consent.Config{
			Enabled:          true,
			Cookies:          cookies,
			BannerSelectors:  cfg.Consent.BannerSelectors,
			AcceptSelectors:  cfg.Consent.AcceptSelectors,
			BlockURLPatterns: cfg.Consent.BlockURLPatterns,
			PollWindow:       time.Duration(cfg.Consent.PollWindowMs) * time.Millisecond,
			PollInterval:     time.Duration(cfg.Consent.PollIntervalMs) * time.Millisecond,
			SearchFrames:     cfg.Consent.SearchFrames,
		}, logger.Named("consent"))
	}
	renderer, err := headless.NewChromedp(headless.Config{
		TargetURL:         cfg.Target.URL,
		ExecPath:          cfg.Headless.ExecPath,
		UserAgent:         cfg.Headless.UserAgent,
		NoSandbox:         cfg.Headless.NoSandbox,
		ViewportWidth:     cfg.Headless.ViewportWidth,
		ViewportHeight:    cfg.Headless.ViewportHeight,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		Ready:             headless.ReadyCondition(cfg.Target.Ready),
		ReadySelector:     cfg.Target.ReadySelector,
		CaptureMode:       headless.CaptureMode(cfg.Target.CaptureMode),
		CaptureSelector:   cfg.Target.CaptureSelector,
		IdleMaxInflight:   cfg.Headless.IdleMaxInflight,
		IdleQuiet:         time.Duration(cfg.Headless.IdleQuietMs) * time.Millisecond,
	}, suppressor, logger.Named("renderer"))
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	return renderer, nil
}

func setupAnnotator(cfg config.Config) (*annotate.Labeler, *annotate.Annotator, error) {
	labeler, err := annotate.NewLabeler(cfg.Annotate.TimeZone, cfg.Annotate.Layout)
	if err != nil {
		return nil, nil, fmt.Errorf("labeler init failed: %w", err)
	}
	style, err := annotateStyle(cfg.Annotate)
	if err != nil {
		return nil, nil, err
	}
	annotator, err := annotate.New(style)
	if err != nil {
		return nil, nil, fmt.Errorf("annotator init failed: %w", err)
	}
	return labeler, annotator, nil
}

func annotateStyle(cfg config.AnnotateConfig) (annotate.Style, error) {
	style := annotate.DefaultStyle()
	if cfg.FontSize > 0 {
		style.FontSize = cfg.FontSize
	}
	if cfg.Color != "" {
		c, err := annotate.ParseColor(cfg.Color)
		if err != nil {
			return annotate.Style{}, fmt.Errorf("annotate.color: %w", err)
		}
		style.Color = c
	}
	if cfg.StrokeColor != "" {
		c, err := annotate.ParseColor(cfg.StrokeColor)
		if err != nil {
			return annotate.Style{}, fmt.Errorf("annotate.stroke_color: %w", err)
		}
		style.StrokeColor = c
	}
	style.StrokeWidth = cfg.StrokeWidth
	if cfg.Anchor != "" {
		style.Anchor = annotate.Anchor(cfg.Anchor)
	}
	style.Margin = cfg.Margin
	return style, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
