/*
Package main is the entry point of the cortex server.

The server dispatches chat, code description and pair programming requests to
a language model backend through the Echo web framework. Requests are logged
through the same logrus logger as the rest of the server, and bodies are
bounded so that inline images cannot exhaust memory. On SIGINT or SIGTERM the
server stops accepting connections and gives in-flight exchanges
shutdownGrace to finish.
*/
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"cortex/core"
)

const (
	shutdownGrace = 30 * time.Second
	bodyLimit     = "20M" // base64 images travel inline
)

func main() {
	config := core.LoadConfig()
	logger := core.InitializeLogger(config)
	logger.WithField("provider", config.LLMProvider).Info("Starting cortex server")

	server, err := core.NewServer(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close server resources")
		}
	}()

	e := newEcho(logger)
	server.RegisterRoutes(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		addr := net.JoinHostPort("", config.Port)
		logger.WithField("addr", addr).Info("Listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server stopped unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	logger.WithField("grace", shutdownGrace).Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		return
	}
	logger.Info("Server shutdown complete")
}

// newEcho builds the echo instance with the server's middleware chain.
func newEcho(logger *logrus.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"requestId": v.RequestID,
				"method":    v.Method,
				"uri":       v.URI,
				"status":    v.Status,
				"latency":   v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request served")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.CORS())

	return e
}
