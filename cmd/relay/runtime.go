package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
	"github.com/dgnsrekt/livetiming-relay/internal/collab"
	"github.com/dgnsrekt/livetiming-relay/internal/config"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
	"github.com/dgnsrekt/livetiming-relay/internal/relay"
	"github.com/dgnsrekt/livetiming-relay/internal/server"
	"github.com/dgnsrekt/livetiming-relay/internal/sse"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
	"github.com/dgnsrekt/livetiming-relay/internal/ws"
)

// relayRuntime holds the components shared by the live and replay modes.
type relayRuntime struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *state.Store
	hub      *ws.Hub
	pipeline *relay.Pipeline
	verifier *auth.JWTVerifier
	inbound  *ws.Inbound
	enricher *collab.Enricher
	closers  []func() error
	logger   *zap.Logger
}

func newRelayRuntime(cfg *config.Config, logger *zap.Logger) (*relayRuntime, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store := state.NewStore(nil, logger.Named("state"))
	hub := ws.NewHub(store, m, logger.Named("hub"))
	pipeline := relay.NewPipeline(store, hub, m, logger.Named("pipeline"))

	rt := &relayRuntime{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		store:    store,
		hub:      hub,
		pipeline: pipeline,
		verifier: auth.NewJWTVerifier(cfg.Chat.JWTSecret),
		logger:   logger,
	}

	cooldowns, err := rt.cooldownStore()
	if err != nil {
		return nil, err
	}
	if !cfg.Chat.Enabled() {
		logger.Warn("chat disabled: no JWT secret configured")
	}
	rt.inbound = ws.NewInbound(rt.verifier, cooldowns, pipeline, ws.InboundConfig{
		MaxMessageBytes:  cfg.Chat.MaxMessageBytes,
		MaxContentLength: cfg.Chat.MaxContentLength,
		DefaultCooldown:  cfg.Chat.DefaultCooldown,
	}, m, logger.Named("inbound"))

	rt.enricher = rt.newEnricher()
	return rt, nil
}

func (rt *relayRuntime) cooldownStore() (auth.CooldownStore, error) {
	if rt.cfg.Chat.RedisURL == "" {
		rt.logger.Info("using in-memory chat cooldowns")
		return auth.NewMemoryCooldownStore(), nil
	}

	store, err := auth.NewRedisCooldownStore(rt.cfg.Chat.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("creating cooldown store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	rt.closers = append(rt.closers, store.Close)
	rt.logger.Info("using redis chat cooldowns")
	return store, nil
}

// newEnricher returns nil when no collaborator is enabled.
func (rt *relayRuntime) newEnricher() *collab.Enricher {
	tc, sc := rt.cfg.Translation, rt.cfg.Transcription
	if !tc.Enabled && !sc.Enabled {
		return nil
	}

	ecfg := collab.EnricherConfig{Language: tc.TargetLanguage}
	if tc.Enabled {
		ecfg.Translator = collab.NewGeminiTranslator(collab.TranslationConfig{
			Endpoint: tc.Endpoint,
			APIKey:   tc.APIKey,
			Model:    tc.Model,
			Timeout:  tc.Timeout,
			Retry:    collab.DefaultRetryConfig(),
		}, rt.logger.Named("translation"))
		ecfg.Translations = collab.NewQueue("translation", collab.QueueConfig{
			Interval: tc.Interval,
			Timeout:  tc.Timeout,
			Size:     tc.QueueSize,
		}, rt.metrics, rt.logger.Named("translation"))
	}
	if sc.Enabled {
		ecfg.Transcriber = collab.NewAssemblyAITranscriber(collab.TranscriptionConfig{
			Endpoint:     sc.Endpoint,
			APIKey:       sc.APIKey,
			AudioBaseURL: sc.AudioBaseURL,
			PollInterval: sc.PollInterval,
			Timeout:      sc.Timeout,
			Retry:        collab.DefaultRetryConfig(),
		}, rt.logger.Named("transcription"))
		ecfg.Transcriptions = collab.NewQueue("transcription", collab.QueueConfig{
			Interval: sc.Interval,
			Timeout:  sc.Timeout,
			Size:     sc.QueueSize,
		}, rt.metrics, rt.logger.Named("transcription"))
	}

	rt.logger.Info("collaborators enabled",
		zap.Bool("translation", tc.Enabled),
		zap.Bool("transcription", sc.Enabled),
		zap.String("language", tc.TargetLanguage),
	)
	return collab.NewEnricher(ecfg, rt.pipeline, rt.logger.Named("enricher"))
}

func (rt *relayRuntime) router(mode string, opts ...server.Option) http.Handler {
	srv := server.NewServer(rt.store, rt.hub, mode, rt.logger.Named("server"), opts...)
	return server.NewRouter(srv, server.Routes{
		WebSocket: ws.NewHandler(rt.hub, rt.inbound, rt.logger.Named("ws")),
		Events:    sse.NewHandler(rt.hub, rt.logger.Named("sse")),
		Gatherer:  rt.registry,
	}, rt.logger)
}

// serve runs the hub, the collaborators, producer and the HTTP server until
// ctx is cancelled or one of them fails.
func (rt *relayRuntime) serve(ctx context.Context, handler http.Handler, producer func(context.Context) error) error {
	defer func() {
		for _, closeFn := range rt.closers {
			_ = closeFn()
		}
	}()

	httpServer := &http.Server{
		Addr:        ":" + strconv.Itoa(rt.cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: rt.cfg.Server.ReadTimeout,
		// Streaming routes are long lived, so only bound headers here.
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.hub.Run(ctx)
		return nil
	})

	if rt.enricher != nil {
		g.Go(func() error { return rt.enricher.Run(ctx) })
	}

	g.Go(func() error { return producer(ctx) })

	g.Go(func() error {
		rt.logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		rt.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		rt.logger.Error("relay stopped with error", zap.Error(err))
		return err
	}
	rt.logger.Info("server stopped")
	return nil
}
