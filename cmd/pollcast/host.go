package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/server"
	"github.com/sjawhar/pollcast/internal/session"
)

type hostOptions struct {
	title            string
	name             string
	frequency        int
	saveTranscript   bool
	participantNames bool
	autoPublish      bool
	serve            bool
	noMic            bool
}

func newHostCmd(a *app) *cobra.Command {
	var opts hostOptions
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a session and stream its transcript",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runHost(ctx, cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.title, "title", "", "session title")
	flags.StringVar(&opts.name, "name", "Host", "display name of the host")
	flags.IntVar(&opts.frequency, "frequency", 5, "minutes between automatic polls")
	flags.BoolVar(&opts.saveTranscript, "save-transcript", false, "save the transcript when the session ends")
	flags.BoolVar(&opts.participantNames, "participant-names", false, "show participant names in the roster")
	flags.BoolVar(&opts.autoPublish, "auto-publish", false, "publish results automatically as answers arrive")
	flags.BoolVar(&opts.serve, "serve", false, "also serve the API on listen_addr so participants can join this host")
	flags.BoolVar(&opts.noMic, "no-mic", false, "do not capture speech; type transcript lines instead")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) runHost(ctx context.Context, cmd *cobra.Command, opts hostOptions) error {
	h, err := a.openBackend(opts.serve)
	if err != nil {
		return err
	}
	defer h.close()

	con := newConsole(cmd.OutOrStdout())
	store := session.NewStore(h.backend,
		session.WithLogger(a.logger),
		session.WithNotifier(con),
		session.WithAnswerPolicy(a.answerPolicy()),
		session.WithCodeRetries(a.cfg.AccessCodeRetries),
		session.WithHostName(opts.name),
	)
	con.store = store

	sess, err := store.Create(ctx, opts.title, session.Settings{
		PollFrequency:      opts.frequency,
		SaveTranscript:     opts.saveTranscript,
		ParticipantNames:   opts.participantNames,
		AutoPublishResults: opts.autoPublish,
	})
	if err != nil {
		return err
	}
	con.printf("session %q is live, access code %s\n", sess.Title, sess.AccessCode)

	serveCtx, stopServe := context.WithCancel(ctx)
	serveDone := make(chan struct{})
	if opts.serve {
		go func() {
			defer close(serveDone)
			if err := server.Serve(serveCtx, a.cfg.ListenAddr, a.handler(h.local), a.logger); err != nil {
				a.logger.Error("embedded server stopped", "error", err)
			}
		}()
	} else {
		close(serveDone)
	}
	defer func() {
		stopServe()
		<-serveDone
	}()

	gen, err := a.newGenerator(h)
	if err != nil {
		return err
	}
	manual, err := polling.ParseManualPolicy(a.cfg.ManualTrigger)
	if err != nil {
		return err
	}
	ctrl := polling.NewController(store, gen, polling.Config{
		MinExcerptChars: a.cfg.MinExcerptChars,
		Manual:          manual,
		Logger:          a.logger,
		Notifier:        con,
	})
	if err := ctrl.Start(); err != nil {
		return err
	}
	con.ctrl = ctrl
	con.exp = a.newExporter(ctx)

	stopCapture := func() {}
	if !opts.noMic {
		adapter, cleanup := a.newCapture(con)
		if adapter != nil {
			adapter.OnFinalFragment(func(text string) {
				if _, err := store.AppendTranscript(text); err != nil {
					a.logger.Warn("append transcript", "error", err)
				}
			})
			adapter.OnInterimFragment(con.Interim)
			if adapter.Start() {
				con.printf("listening on the microphone\n")
			}
		}
		stopCapture = func() {
			if adapter != nil {
				adapter.Stop()
			}
			cleanup()
		}
	}

	runErr := con.run(ctx, a.stdin)

	stopCapture()
	ctrl.Stop()
	ctrl.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if errors.Is(runErr, errSessionEnded) {
		if path, err := con.exp.finish(shutdownCtx, store); err != nil {
			con.printf("could not save the transcript: %v\n", err)
		} else if path != "" {
			con.printf("transcript saved to %s\n", path)
		}
		runErr = nil
	}

	if err := store.Leave(shutdownCtx); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		a.logger.Warn("leave session", "error", err)
	}
	store.Wait()
	if runErr != nil {
		return fmt.Errorf("host console: %w", runErr)
	}
	return nil
}
