package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/observability"
)

// App owns the HTTP server and the observability runtime for one process.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Observability: runtime}
}

// Run serves until the context is cancelled or a termination signal arrives,
// then drains in-flight requests and shuts down the observability runtime.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		a.Logger.Info("shutdown requested")
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()

	if a.Observability != nil {
		obsCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		if obsErr := a.Observability.Shutdown(obsCtx); obsErr != nil {
			a.Logger.Error("observability shutdown failed", "error", obsErr)
			if err == nil {
				err = obsErr
			}
		}
	}
	a.Logger.Info("server stopped")
	return err
}
