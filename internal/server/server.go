// Package server exposes a pollcast backend over HTTP/JSON with websocket
// change channels.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/realtime"
	"github.com/sjawhar/pollcast/internal/schema"
	"github.com/sjawhar/pollcast/internal/session"
)

// Backend is the row store the API serves. backend.Local satisfies it.
type Backend interface {
	CreateSession(ctx context.Context, row schema.SessionRow) error
	FindActiveSession(ctx context.Context, code string) (schema.SessionRow, error)
	GetSession(ctx context.Context, id string) (schema.SessionRow, error)
	EndSession(ctx context.Context, id string) (schema.SessionRow, error)

	InsertTranscript(ctx context.Context, row schema.TranscriptRow) error
	ListTranscripts(ctx context.Context, sessionID string) ([]schema.TranscriptRow, error)
	InsertPoll(ctx context.Context, row schema.PollRow) error
	ListPolls(ctx context.Context, sessionID string) ([]schema.PollRow, error)
	SetPollPublished(ctx context.Context, pollID string, published bool) (schema.PollRow, error)
	InsertParticipant(ctx context.Context, row schema.ParticipantRow) error
	ListParticipants(ctx context.Context, sessionID string) ([]schema.ParticipantRow, error)
	DeleteParticipant(ctx context.Context, id string) error
	InsertAnswer(ctx context.Context, row schema.AnswerRow) error
	ListAnswers(ctx context.Context, sessionID string) ([]schema.AnswerRow, error)
}

type ControlHooks struct {
	// GeneratePoll drafts a poll from excerpt with the caller's credential.
	// Without it the generate-poll route answers 501.
	GeneratePoll func(ctx context.Context, sessionID, excerpt, credential string) (polling.Draft, error)
	// AnswerPolicy is used by the results export.
	AnswerPolicy session.AnswerPolicy
	Logger       *slog.Logger
}

type server struct {
	backend Backend
	hub     *realtime.Hub
	hooks   ControlHooks
	logger  *slog.Logger
}

func Handler(backend Backend, hub *realtime.Hub, hooks ControlHooks) http.Handler {
	s := &server{backend: backend, hub: hub, hooks: hooks, logger: hooks.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hooks.AnswerPolicy == "" {
		s.hooks.AnswerPolicy = session.AnswerAll
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/ws", s.handleWS)
	r.Route("/api", func(r chi.Router) {
		s.registerAPIRoutes(r)
		s.registerExportRoutes(r)
	})
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("api listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
