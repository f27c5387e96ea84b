package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"flowdeck/backend/internal/api"
	"flowdeck/backend/internal/app"
	"flowdeck/backend/internal/auth"
	"flowdeck/backend/internal/config"
	"flowdeck/backend/internal/logging"
	"flowdeck/backend/internal/mcp"
	"flowdeck/backend/internal/relay"
	"flowdeck/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"upstream", cfg.Upstream.BaseURL,
		"oidc", cfg.OIDCEnabled(),
		"categories", len(cfg.Categories),
		"config_file", viper.ConfigFileUsed(),
	)
	if cfg.DevModeBypass {
		logger.Warn("Authentication bypass is enabled, every request acts as the dev user")
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer deps.Close()
	logger.Info("Service layer initialized")

	authz, err := auth.New(ctx, cfg, deps.Sessions, deps.Workflows, logger.With("component", "auth"))
	if err != nil {
		logger.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flowdeck"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Error("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	health := api.NewHandler(deps.HealthChecks())
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))

	// Raw upstream API, unauthenticated at this layer: callers carry their own key.
	e.Any("/api/v1/*", relay.Handler(deps.Relay))

	e.POST("/auth/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.POST("/auth/unlock", echo.WrapHandler(http.HandlerFunc(authz.UnlockHandler)))
	e.GET("/auth/session", echo.WrapHandler(http.HandlerFunc(authz.SessionHandler)))
	e.POST("/auth/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))
	if authz.OIDCEnabled() {
		e.GET("/auth/oidc/login", echo.WrapHandler(http.HandlerFunc(authz.OIDCLoginHandler)))
		e.GET("/auth/oidc/callback", echo.WrapHandler(http.HandlerFunc(authz.OIDCCallbackHandler)))
	}

	dashboard := e.Group("/dashboard", echo.WrapMiddleware(authz.RequireSession))
	api.RegisterHandlers(dashboard, api.NewServer(deps.Workflows))
	logger.Info("REST API handlers mounted")

	// MCP tools act as the caller, so the same session check applies.
	mcpServer := mcp.NewServer(deps.Workflows)
	mcp.MountHTTPHandlers(e, mcpServer.GetMCPServer(), echo.WrapMiddleware(authz.RequireSession))
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			serverErrors <- errors.New("tls enabled but cert_file or key_file is empty")
			return
		}
		created, err := tls.EnsureSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- err
			return
		}
		if created {
			logger.Warn("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			deps.Close()
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}
