package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepresearch/config"
	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/statusrepo"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

// Run starts the HTTP API. It owns dependency construction: storage, status
// publishing, the capabilities and the orchestrator.
func Run(cfg *config.Config) error {
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
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("warn: migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var statuses core.StatusRepository
	var statusReader StatusReader
	if cfg.Storage.Redis.Enabled {
		client, err := statusrepo.Conn(ctx, cfg.Storage.Redis)
		if err != nil {
			return err
		}
		repo := statusrepo.New(client)
		statusReader = repo
		statuses = repo
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	llmProvider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := core.NewSearcher(cfg.Search)
	if err != nil {
		return err
	}
	sender, err := core.NewEmailSender(cfg.Email)
	if err != nil {
		return err
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch := core.NewOrchestrator(cfg,
		orchLogger,
		tele,
		core.NewSearchPlanner(cfg, llmProvider, tele),
		core.NewConcurrentSearchExecutor(cfg, llmProvider, searcher, tele),
		core.NewReportSynthesizer(cfg, llmProvider, tele),
		core.NewDeliveryDispatcher(cfg, sender, tele),
		st, statuses)

	api := e.Group("/api")
	if cfg.Server.JWTSecret != "" {
		secret := []byte(cfg.Server.JWTSecret)
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	} else {
		baseLogger.Printf("warn: server.jwt_secret not set, API is unauthenticated")
	}

	rh := &RunsHandler{Orchestrator: orch, Store: st, Statuses: statusReader, Timeout: cfg.General.MaxProcessingTime}
	rh.Register(api)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	return e.Start(addr)
}
