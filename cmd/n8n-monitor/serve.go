package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pandeptwidyaop/n8n-monitor/internal/router"
	"github.com/pandeptwidyaop/n8n-monitor/internal/version"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon and the local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	a, err := openApp(c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.close()

	reaper := a.newReaper()
	monitor := a.newMonitor()
	reaper.Start()
	defer reaper.Stop()
	monitor.Start()
	defer monitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.settings.WatchFile(gctx)
	})

	engine := router.New(gctx, c.cfg, router.Deps{
		Repository:  a.repo,
		Settings:    a.settings,
		Sync:        monitor,
		Maintenance: reaper,
		Logger:      c.log.Named("api"),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", c.cfg.Server.Host, c.cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		c.log.Info("n8n monitor started",
			zap.String("version", version.Version),
			zap.String("addr", srv.Addr),
			zap.String("path_prefix", c.cfg.Server.PathPrefix))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
