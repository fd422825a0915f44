package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/typelark/fontdex/config"
	"github.com/typelark/fontdex/internal/embedding"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/internal/retrieval"
	"github.com/typelark/fontdex/internal/runtime"
	"github.com/typelark/fontdex/internal/search"
	"github.com/typelark/fontdex/internal/store"
	"github.com/typelark/fontdex/provider"
)

// Run wires the API server and blocks serving it.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}

	embedder := embedding.NewChain(
		embedding.NewMultimodalClient(cfg.Embedding.MultimodalEndpoint, cfg.Embedding.MultimodalAPIKey, cfg.Embedding.Timeout),
		embedding.NewTextClient(cfg.Embedding.TextBaseURL, cfg.Embedding.TextAPIKey, cfg.Embedding.TextModel, cfg.Embedding.Timeout),
	)

	llm, err := provider.NewProvider(provider.Gemini, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.Model, cfg.Providers.Gemini.Timeout)
	if err != nil {
		return err
	}

	q := queue.New(st.DB, cfg.Queue.BackoffBase)

	orchLogger := log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	orch := search.NewOrchestrator(st, llm, embedder, q, orchLogger)
	orch.Strategy = retrieval.ParseStrategy(cfg.Retrieval.Strategy)
	orch.Penalties = retrieval.Options{
		VintagePenalty: cfg.Retrieval.VintagePenalty,
		StrictPenalty:  cfg.Retrieval.StrictPenalty,
	}
	orch.TopK = cfg.Retrieval.TopK
	orch.Threshold = cfg.Retrieval.Threshold
	orch.CacheEnabled = cfg.Cache.Enabled
	orch.CacheCutoff = cfg.Cache.Threshold

	if cfg.Cache.Enabled {
		cleaner := &CacheCleaner{
			Store:  st,
			TTL:    cfg.Cache.TTL,
			Logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
			Stop:   make(chan struct{}),
		}
		cleaner.Start()
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	sh := &SearchHandler{Orch: orch}
	sh.Register(api)

	ops := api.Group("/ops")
	ops.Use(runtime.EchoAuthMiddleware(secret))
	oh := &OpsHandler{Queue: q, StallAfter: cfg.Queue.StallAfter}
	oh.Register(ops)

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
