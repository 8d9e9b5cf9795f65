package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	httpAdapter "github.com/aretw0/pergola/pkg/adapters/http"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Exposes the engine over a JSON API: start, step, resume and inspect runs,
stream run changes over Server-Sent Events and scrape /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			c.Config.Server.Addr = addr
		}

		eng, err := c.Engine(ctx)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              c.Config.Server.Addr,
			Handler:           httpAdapter.NewHandler(eng, httpAdapter.WithMetrics(c.Registry), httpAdapter.WithLogger(c.Logger)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			c.Logger.Info("starting pergola server", "addr", srv.Addr, "graph", eng.Definition().Name)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			c.Logger.Info("shutting down", "signal", ctx.Signal())

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.Logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			c.Logger.Info("pergola server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides server.addr)")
}
