package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjawhar/pollcast/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session backend that hosts and participants connect to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := a.openLocal()
			if err != nil {
				return err
			}
			defer h.close()

			a.logger.Info("pollcast server starting", "addr", addr, "db_driver", a.cfg.DBDriver)
			return server.Serve(ctx, addr, a.handler(h.local), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: listen_addr from config)")
	return cmd
}
