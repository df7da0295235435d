package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/engine"
	"orderflow/internal/feed"
	"orderflow/internal/infra"
	"orderflow/internal/infra/status"
	"orderflow/internal/infra/storage"
	"orderflow/internal/render"
	"orderflow/internal/service"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const metricsLogInterval = 30 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	SessionID string

	Storage    *storage.Storage
	Publisher  *status.Publisher
	Relay      *status.Relay
	Supervisor *feed.Supervisor
	Book       *engine.OrderBook
	History    *engine.TradeHistory
	Pipeline   *engine.Pipeline
	Renderer   *render.Renderer
	Latest     *render.LatestFrame
	Session    *service.Session
	Hours      *infra.MarketHours

	connected chan struct{}
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{
		SessionID: uuid.NewString(),
		connected: make(chan struct{}, 1),
	}
}

// Initialize loads config, sets up logging and builds every component.
// Optional collaborators (storage, redis) degrade to disabled on failure.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg).With(slog.String("session", b.SessionID)))
	slog.Info("🚀 Bootstrapping order flow", slog.String("version", cfg.App.Version))

	// 3. Storage (diagnostics + preferences)
	var diag domain.DiagnosticsSink
	var prefs domain.PreferenceStore
	store, err := storage.NewStorage(cfg.Storage.Path, b.SessionID, cfg.Storage.BufferSize)
	if err != nil {
		slog.Warn("⚠️ Storage disabled", slog.Any("error", err))
	} else {
		b.Storage = store
		diag, prefs = store, store
		slog.Info("✅ Database initialized")
	}

	// 4. Status publisher
	if cfg.Status.RedisAddr != "" {
		pub, err := status.NewPublisher(ctx, status.Config{
			Addr:          cfg.Status.RedisAddr,
			Password:      cfg.Status.RedisPassword,
			DB:            cfg.Status.RedisDB,
			ChannelPrefix: cfg.Status.ChannelPrefix,
			SessionID:     b.SessionID,
		})
		if err != nil {
			slog.Warn("⚠️ Status publisher disabled", slog.Any("error", err))
		} else {
			b.Publisher = pub
			b.Relay = status.NewRelay(pub, 0)
			slog.Info("✅ Status publisher ready", slog.String("channel", pub.Channel()))
		}
	}

	// 5. Feed supervisor
	b.Supervisor = feed.NewSupervisor(feed.SupervisorConfig{
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		BaseDelay:         cfg.Reconnect.BaseDelay,
		MaxDelay:          cfg.Reconnect.MaxDelay,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
	}, feed.WSFactory(feed.WSOptions{
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		WriteTimeout:     cfg.Feed.WriteTimeout,
		ReadTimeout:      cfg.Feed.ReadTimeout,
		UserAgent:        infra.DefaultUserAgent,
	}), feed.SystemClock{})

	// 6. Engine, suspended until the feed reports otherwise when local hours say closed
	b.Hours = infra.NewMarketHours(cfg.Session.Timezone)
	open := b.Hours.IsOpen(time.Now())
	slog.Info("📅 Market hours", slog.Bool("open", open), slog.String("zone", cfg.Session.Timezone))

	b.Book = engine.NewOrderBook("")
	b.History = engine.NewTradeHistory(cfg.Aggregator.HistoryCapacity)
	agg := engine.NewAggregator(cfg.Aggregator.PriceStep, cfg.Aggregator.Window)

	routerOpts := []engine.RouterOption{engine.WithPong(b.Supervisor), engine.WithMarketOpen(open)}
	if diag != nil {
		routerOpts = append(routerOpts, engine.WithDiagnostics(diag))
	}
	router := engine.NewRouter(b.Book, agg, b.History, routerOpts...)

	// 7. Renderer and frame sinks
	b.Latest = &render.LatestFrame{}
	sinks := render.MultiSink{b.Latest}
	if cfg.Renderer.OutputDir != "" {
		png, err := render.NewPNGSink(cfg.Renderer.OutputDir, cfg.Renderer.OutputWidth, cfg.Renderer.OutputHeight, cfg.Renderer.SaveEveryN)
		if err != nil {
			return fmt.Errorf("failed to create frame output: %w", err)
		}
		sinks = append(sinks, png)
		slog.Info("✅ PNG frame output enabled", slog.String("dir", cfg.Renderer.OutputDir))
	}
	b.Renderer = render.NewRenderer(render.Options{
		FPS:           cfg.Renderer.FPS,
		Width:         cfg.Renderer.Width,
		Height:        cfg.Renderer.Height,
		TimeWindow:    cfg.Renderer.TimeWindow,
		Palette:       domain.Palette(cfg.Renderer.Palette),
		SizeClass:     domain.SizeClass(cfg.Renderer.SizeClass),
		IntensityCap:  cfg.Renderer.IntensityCap,
		DepthStripPct: cfg.Renderer.DepthStripPct,
	}, b.Book, b.History, b.Supervisor, sinks)

	b.Pipeline = engine.NewPipeline(cfg.Feed.InboxSize, router, b.Renderer)
	b.Supervisor.SetFrameHandler(b.Pipeline.Push)

	// 8. Session, restoring saved display settings over the configured ones
	sessOpts := []service.SessionOption{service.WithMarketOpen(open)}
	if prefs != nil {
		sessOpts = append(sessOpts, service.WithPreferences(prefs))
	}
	b.Session = service.NewSession(b.Supervisor, b.Pipeline, b.Renderer, cfg.Session.Timeframe, sessOpts...)
	router.SetSession(b.Session)
	b.Session.RestorePreferences()

	// 9. Connection observers
	b.Supervisor.Subscribe(metricsObserver{metrics: infra.GlobalMetrics})
	b.Supervisor.Subscribe(b.Session)
	b.Supervisor.Subscribe(connectedNotifier(b.connected))
	if b.Relay != nil {
		b.Supervisor.Subscribe(b.Relay)
	}

	return nil
}

// FeedHeader builds the dial headers: the auth token plus any configured extras.
func FeedHeader(cfg *infra.Config) http.Header {
	h := http.Header{}
	for k, v := range cfg.Feed.Headers {
		h.Set(k, v)
	}
	if cfg.Feed.AuthToken != "" {
		name := cfg.Feed.AuthHeader
		if name == "" {
			name = "Authorization"
		}
		h.Set(name, cfg.Feed.AuthToken)
	}
	return h
}

// Run starts the pipeline, renderer and background loops, then connects the feed.
// It returns when ctx is done or a component fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.Pipeline.Run(ctx) })
	g.Go(func() error { return b.Renderer.Run(ctx) })
	g.Go(func() error { return logMetrics(ctx, metricsLogInterval) })
	if b.Relay != nil {
		g.Go(func() error { return b.Relay.Run(ctx) })
	}
	g.Go(func() error { return b.selectOnConnect(ctx) })

	if err := b.Supervisor.Connect(ctx, b.Config.Feed.WSURL, FeedHeader(b.Config)); err != nil {
		// the supervisor keeps retrying on its own
		slog.Warn("Initial feed connect failed", slog.Any("error", err))
	}

	return g.Wait()
}

// selectOnConnect subscribes the preferred instrument once the first connection is up.
// Later reconnects resubscribe through the session itself.
func (b *Bootstrap) selectOnConnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.connected:
			if b.Session.Instrument() != "" {
				continue
			}
			id := b.Session.PreferredInstrument(b.Config.Session.Instrument)
			if err := b.Session.SelectInstrument(ctx, id); err != nil {
				slog.Warn("Failed to select instrument", slog.String("instrument", id), slog.Any("error", err))
			}
		}
	}
}

// Shutdown closes the feed and flushes collaborators.
func (b *Bootstrap) Shutdown() {
	if b.Supervisor != nil {
		b.Supervisor.Close("shutdown")
	}
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			slog.Warn("Failed to close status publisher", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close storage", slog.Any("error", err))
		}
	}
}

func logMetrics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m := infra.GlobalMetrics.Snapshot()
			slog.Info("📊 Metrics",
				slog.Bool("connected", m.Connected),
				slog.Uint64("frames", m.FramesReceived),
				slog.Uint64("dropped", m.FramesDropped),
				slog.Uint64("parse_errors", m.ParseErrors),
				slog.Uint64("crossed_books", m.CrossedBooks),
				slog.Uint64("reconnects", m.Reconnects),
				slog.Uint64("rendered", m.FramesRendered),
				slog.Uint64("skipped", m.FramesSkipped),
				slog.Duration("latency", m.LastLatency),
			)
		}
	}
}
