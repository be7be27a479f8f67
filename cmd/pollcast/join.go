package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/pollcast/internal/session"
)

func newJoinCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Join a live session with its 6-digit access code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := a.openBackend(false)
			if err != nil {
				return err
			}
			defer h.close()

			con := newConsole(cmd.OutOrStdout())
			store := session.NewStore(h.backend,
				session.WithLogger(a.logger),
				session.WithNotifier(con),
				session.WithAnswerPolicy(a.answerPolicy()),
			)
			con.store = store

			if _, err := store.Join(ctx, args[0], name); err != nil {
				return err
			}
			for _, e := range store.Transcript() {
				con.printf("> %s\n", e.Text)
			}

			runErr := con.run(ctx, a.stdin)

			leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := store.Leave(leaveCtx); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
				a.logger.Warn("leave session", "error", err)
			}
			store.Wait()
			return runErr
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name shown to the host")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
