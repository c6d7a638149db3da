package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
)

const readHeaderTimeout = 10 * time.Second

// registerHTTPServer binds handler to port for the lifetime of the fx app.
// A serve failure after startup stops the app.
func registerHTTPServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, name string, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			log.Info("http server listening", zap.String("server", name), zap.String("addr", ln.Addr().String()))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.String("server", name), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("http server stopping", zap.String("server", name))
			return srv.Shutdown(ctx)
		},
	})
}

// setGinMode keeps gin's debug route dump out of production logs.
func setGinMode(cfg *config.Config) {
	if cfg.Logging.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
}

// fxLogger routes fx lifecycle events through the application logger.
func fxLogger(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log}
}

// runApp runs app until SIGINT or SIGTERM, surfacing construction errors.
func runApp(app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
