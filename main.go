/*
Package main is the entry point for the Happy Shopper agent gateway.

The gateway is the server-side half of the storefront chat widget: it
authenticates to the hosted reasoning engine, relays chat turns and session
queries, and hosts the advisor nudge generator. The server is built on the
Echo web framework with structured logging and graceful shutdown.

Initialization steps:
1. Load configuration from environment variables (fail fast when the
   upstream identifiers are missing)
2. Initialize structured logging
3. Create the gateway with its dependencies
4. Set up HTTP middleware (logging, recovery, CORS)
5. Register API routes
6. Start the server with graceful shutdown support
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"happyshopper/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	config, err := core.LoadConfig()
	if err != nil {
		// Logger is not configured yet; report and refuse to start.
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := core.InitializeLogger(config)
	logger.Info("Starting Happy Shopper agent gateway")

	server, err := core.NewServer(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create gateway")
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())  // HTTP request logging
	e.Use(middleware.Recover()) // Panic recovery
	if len(config.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: config.AllowedOrigins,
		}))
	} else {
		e.Use(middleware.CORS())
	}

	server.RegisterRoutes(e)

	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Block until an interrupt arrives, then shut down gracefully with a
	// 30 second drain window for in-flight relays.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}
}
