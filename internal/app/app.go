package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/calendarhub/intake/internal/config"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config *config.Config
	Logger *slog.Logger
	Server *http.Server
	Tracer *sdktrace.TracerProvider
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, tracer *sdktrace.TracerProvider) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Tracer: tracer}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// flushes pending spans.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr, "env", a.Config.Env, "sites", len(a.Config.Sites))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Logger.Info("server shutting down")
	err := a.Server.Shutdown(shutdownCtx)
	if a.Tracer != nil {
		if tErr := a.Tracer.Shutdown(shutdownCtx); tErr != nil {
			a.Logger.Warn("tracer shutdown failed", "error", tErr)
		}
	}
	return err
}
