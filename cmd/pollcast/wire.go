package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sjawhar/pollcast/internal/backend"
	"github.com/sjawhar/pollcast/internal/capture"
	"github.com/sjawhar/pollcast/internal/export"
	"github.com/sjawhar/pollcast/internal/gdrive"
	"github.com/sjawhar/pollcast/internal/pollgen"
	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/realtime"
	"github.com/sjawhar/pollcast/internal/server"
	"github.com/sjawhar/pollcast/internal/session"
	"github.com/sjawhar/pollcast/internal/storage"
)

// backendHandle is either an embedded backend (local set) or a connection to
// a pollcast server (remote set).
type backendHandle struct {
	backend session.Backend
	local   *backend.Local
	remote  *backend.Remote
	close   func()
}

// openBackend connects to server_url unless embedded is set or no server is
// configured, in which case the database is opened in-process.
func (a *app) openBackend(embedded bool) (*backendHandle, error) {
	if !embedded && a.cfg.ServerURL != "" {
		remote, err := backend.NewRemote(a.cfg.ServerURL, backend.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return &backendHandle{backend: remote, remote: remote, close: func() {}}, nil
	}
	return a.openLocal()
}

func (a *app) openLocal() (*backendHandle, error) {
	store, err := storage.Open(a.cfg.DBDriver, a.cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	local := backend.NewLocal(store, realtime.NewHub(), a.logger)
	return &backendHandle{
		backend: local,
		local:   local,
		close: func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close database", "error", err)
			}
		},
	}, nil
}

func (a *app) newGenerator(h *backendHandle) (polling.Generator, error) {
	key := a.pollKey()
	if key == "" {
		a.logger.Warn("no poll generator credential, generation will fail until one is set", "hint", "pollcast credential set")
	}

	if a.cfg.UsesServerGenerator() && h.remote != nil {
		return pollgen.NewRemote(h.remote, key), nil
	}

	client, err := pollgen.NewModelClient(a.cfg.PollModel, key)
	if err != nil {
		return nil, fmt.Errorf("poll generator: %w", err)
	}
	opts := []pollgen.Option{pollgen.WithLogger(a.logger)}
	if h.local != nil {
		opts = append(opts, pollgen.WithClaimStore(h.local))
	}
	return pollgen.NewLLM(client, opts...), nil
}

func (a *app) answerPolicy() session.AnswerPolicy {
	policy, err := session.ParseAnswerPolicy(a.cfg.AnswerPolicy)
	if err != nil {
		return session.AnswerAll
	}
	return policy
}

// handler builds the HTTP API over an embedded backend. Poll generation runs
// with the credential each caller sends.
func (a *app) handler(local *backend.Local) http.Handler {
	return server.Handler(local, local.Hub(), server.ControlHooks{
		GeneratePoll: func(ctx context.Context, sessionID, excerpt, credential string) (polling.Draft, error) {
			client, err := pollgen.NewModelClient(a.cfg.PollModel, credential)
			if err != nil {
				return polling.Draft{}, fmt.Errorf("%w: %w", pollgen.ErrGenerator, err)
			}
			gen := pollgen.NewLLM(client, pollgen.WithClaimStore(local), pollgen.WithLogger(a.logger))
			return gen.Generate(ctx, polling.Request{SessionID: sessionID, Excerpt: excerpt})
		},
		AnswerPolicy: a.answerPolicy(),
		Logger:       a.logger,
	})
}

func (a *app) newExporter(ctx context.Context) *exporter {
	e := &exporter{
		writer: export.NewWriter(a.cfg.ExportDir),
		loc:    time.Local,
		now:    time.Now,
		logger: a.logger,
	}
	if a.cfg.GDriveFolderID == "" {
		return e
	}
	uploader, err := gdrive.NewUploader(ctx, a.cfg.GoogleCredentialsFile, a.cfg.GDriveFolderID)
	if err != nil {
		a.logger.Warn("google drive upload disabled", "error", err)
		return e
	}
	e.upload = uploader.Upload
	return e
}

// newCapture returns nil when audio cannot be initialised. The returned
// cleanup must run after the adapter is stopped.
func (a *app) newCapture(notifier session.Notifier) (*capture.Adapter, func()) {
	if err := capture.InitAudio(); err != nil {
		a.logger.Warn("audio unavailable, type transcript lines instead", "error", err)
		return nil, func() {}
	}
	engine := capture.NewDeepgram(capture.DeepgramConfig{
		APIKey:      a.cfg.DeepgramAPIKey,
		SampleRates: a.cfg.SampleRateCandidates(),
		Logger:      a.logger,
	})
	adapter := capture.NewAdapter(engine, capture.WithLogger(a.logger), capture.WithNotifier(notifier))
	return adapter, func() {
		if err := capture.TerminateAudio(); err != nil {
			a.logger.Warn("terminate audio", "error", err)
		}
	}
}
