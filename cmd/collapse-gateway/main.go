package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jrl/collapse-gateway/internal/config"
	"github.com/jrl/collapse-gateway/internal/domain/accesscode"
	"github.com/jrl/collapse-gateway/internal/domain/caseflow"
	"github.com/jrl/collapse-gateway/internal/platform/backend"
	"github.com/jrl/collapse-gateway/internal/platform/kvstore"
	"github.com/jrl/collapse-gateway/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collapse-gateway",
		Short: "Hip collapse risk assessment gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(codesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func codesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage access codes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a one-time / permanent code pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			oneTime, permanent, err := accesscode.GenerateCodePair()
			if err != nil {
				return fmt.Errorf("generate codes: %w", err)
			}
			fmt.Printf("one-time:  %s\npermanent: %s\n", oneTime, permanent)
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Remembered-code store
	store, err := kvstore.NewSQLite(cfg.CodeStorePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open code store")
	}
	defer store.Close()
	logger.Info().Str("path", cfg.CodeStorePath).Msg("opened code store")

	// Upstream prediction backend
	client := backend.NewClient(cfg.UpstreamBaseURL, &http.Client{Timeout: cfg.UpstreamTimeout}, logger)

	gate := accesscode.NewGate(client, store, logger)
	svc := caseflow.NewService(client, gate, cfg.SessionTTL, logger)
	handler := caseflow.NewHandler(svc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.ExcelBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	apiV1 := e.Group("/api/v1")
	handler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
