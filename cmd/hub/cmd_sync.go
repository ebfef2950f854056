package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/trustweave/dag-hub/pkg/transport"
)

// syncCmd brings the node online: it opens the store, starts the
// websocket listener, dials the configured remote hubs, and runs the
// Hub Orchestrator's sweeps until interrupted.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "connect to peers and keep the local DAG up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := newNode(ctx, cfg, logger.WithField("cmd", "sync"))
			if err != nil {
				return err
			}
			defer n.Close()

			pool := transport.NewPool(n.hub)
			n.hub.Bind(pool)

			srv := transport.NewServer(pool, cfg.HeartbeatPeriodMS, n.log)
			httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HubPort), Handler: srv}
			go func() {
				n.log.WithField("port", cfg.HubPort).Info("websocket server listening")
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					n.log.WithError(err).Error("websocket server stopped")
				}
			}()

			if cfg.MetricsPort != 0 {
				metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: promhttp.Handler()}
				go func() {
					n.log.WithField("port", cfg.MetricsPort).Info("metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						n.log.WithError(err).Error("metrics server stopped")
					}
				}()
				go func() { <-ctx.Done(); metricsSrv.Close() }()
			}

			for _, url := range cfg.RemoteHubURLs {
				dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
				_, err := transport.Dial(dialCtx, pool, url, cfg.HeartbeatPeriodMS, n.log)
				dialCancel()
				if err != nil {
					n.log.WithField("peer", url).WithError(err).Warn("initial dial failed, auto-connect will retry")
				}
			}

			go n.hub.Run(ctx)

			<-ctx.Done()
			n.log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpSrv.Shutdown(shutdownCtx)
			pool.CloseAll()
			return nil
		},
	}
}
