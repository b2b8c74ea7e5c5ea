package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"trustvoice/internal/config"
	"trustvoice/internal/logging"
	"trustvoice/internal/server"
)

func cmdServe(cfg *config.AppConfig) *cli.Command {
	var addr string

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve search and answers over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address (default server.addr from config)",
				Sources:     cli.EnvVars("TRUSTVOICE_ADDR"),
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}

			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			_ = svc.Open(ctx)
			_ = svc.Warm(ctx)

			timeout := time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second
			srv := server.New(svc, server.WithRequestTimeout(timeout))
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("starting HTTP server", "addr", addr, "request_timeout", timeout)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server", goerr.V("addr", addr))
				}
			}()

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Default().Info("received shutdown signal", "signal", sig)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}
			logging.Default().Info("server stopped")
			return nil
		},
	}
}
