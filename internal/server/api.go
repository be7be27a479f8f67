package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sjawhar/pollcast/internal/pollgen"
	"github.com/sjawhar/pollcast/internal/schema"
)

const maxBodyBytes = 1 << 20

func (s *server) registerAPIRoutes(r chi.Router) {
	r.Post("/sessions", s.createSession)
	r.Get("/sessions", s.findActiveSession)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/end", s.endSession)

		r.Get("/transcriptions", listHandler(s, s.backend.ListTranscripts))
		r.Post("/transcriptions", insertHandler(s, func(row *schema.TranscriptRow, sid string) error {
			if strings.TrimSpace(row.Text) == "" {
				return errors.New("text is required")
			}
			return bindSession(&row.SessionID, sid)
		}, func(r schema.TranscriptRow) string { return r.ID }, s.backend.InsertTranscript))

		r.Get("/polls", listHandler(s, s.backend.ListPolls))
		r.Post("/polls", insertHandler(s, func(row *schema.PollRow, sid string) error {
			if strings.TrimSpace(row.Question) == "" {
				return errors.New("question is required")
			}
			if len(row.Options) == 0 {
				return errors.New("options are required")
			}
			return bindSession(&row.SessionID, sid)
		}, func(r schema.PollRow) string { return r.ID }, s.backend.InsertPoll))

		r.Get("/participants", listHandler(s, s.backend.ListParticipants))
		r.Post("/participants", insertHandler(s, func(row *schema.ParticipantRow, sid string) error {
			return bindSession(&row.SessionID, sid)
		}, func(r schema.ParticipantRow) string { return r.ID }, s.backend.InsertParticipant))

		r.Get("/answers", listHandler(s, s.backend.ListAnswers))
		r.Post("/answers", insertHandler(s, func(row *schema.AnswerRow, sid string) error {
			if row.PollID == "" || row.ParticipantID == "" {
				return errors.New("poll_id and participant_id are required")
			}
			return bindSession(&row.SessionID, sid)
		}, func(r schema.AnswerRow) string { return r.ID }, s.backend.InsertAnswer))

		r.Post("/generate-poll", s.generatePoll)
	})

	r.Put("/polls/{id}/published", s.setPollPublished)
	r.Delete("/participants/{id}", s.deleteParticipant)
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var row schema.SessionRow
	if !s.decode(w, r, &row) {
		return
	}
	switch {
	case row.ID == "":
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	case strings.TrimSpace(row.Title) == "":
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	case row.SessionCode == "":
		writeJSONError(w, http.StatusBadRequest, "session_code is required")
		return
	case row.QuizInterval <= 0:
		writeJSONError(w, http.StatusBadRequest, "quiz_interval must be positive")
		return
	}

	if err := s.backend.CreateSession(r.Context(), row); err != nil {
		s.writeError(w, r, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *server) findActiveSession(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, "code query parameter is required")
		return
	}
	row, err := s.backend.FindActiveSession(r.Context(), code)
	if err != nil {
		s.writeError(w, r, "find session", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	row, err := s.backend.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) endSession(w http.ResponseWriter, r *http.Request) {
	row, err := s.backend.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "end session", err)
		return
	}
	s.logger.Info("session ended", "session_id", row.ID)
	writeJSON(w, http.StatusOK, row)
}

func (s *server) setPollPublished(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Published *bool `json:"published"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Published == nil {
		writeJSONError(w, http.StatusBadRequest, "published is required")
		return
	}
	row, err := s.backend.SetPollPublished(r.Context(), chi.URLParam(r, "id"), *body.Published)
	if err != nil {
		s.writeError(w, r, "set poll published", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) deleteParticipant(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteParticipant(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "delete participant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) generatePoll(w http.ResponseWriter, r *http.Request) {
	credential := strings.TrimSpace(r.Header.Get(schema.CredentialHeader))
	if credential == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing "+schema.CredentialHeader+" header")
		return
	}
	if s.hooks.GeneratePoll == nil {
		writeJSONError(w, http.StatusNotImplemented, "poll generation is not enabled on this server")
		return
	}

	var req schema.GeneratePollRequest
	if !s.decode(w, r, &req) {
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, err := s.backend.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "generate poll", err)
		return
	}
	if !sess.Active {
		writeJSONError(w, http.StatusGone, "session has ended")
		return
	}

	draft, err := s.hooks.GeneratePoll(r.Context(), sessionID, req.Excerpt, credential)
	if err != nil {
		s.writeError(w, r, "generate poll", err)
		return
	}
	writeJSON(w, http.StatusOK, schema.GeneratePollResponse{Question: draft.Question, Options: draft.Options})
}

// requireSession answers 404 unless the session in the URL exists.
func (s *server) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.backend.GetSession(r.Context(), sessionID); err != nil {
		s.writeError(w, r, "get session", err)
		return "", false
	}
	return sessionID, true
}

func listHandler[T any](s *server, list func(context.Context, string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := list(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, "list rows", err)
			return
		}
		if rows == nil {
			rows = []T{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func insertHandler[T any](s *server, validate func(*T, string) error, id func(T) string, insert func(context.Context, T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var row T
		if !s.decode(w, r, &row) {
			return
		}
		if id(row) == "" {
			writeJSONError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := validate(&row, sessionID); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := insert(r.Context(), row); err != nil {
			s.writeError(w, r, "insert row", err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func bindSession(field *string, sessionID string) error {
	if *field != "" && *field != sessionID {
		return fmt.Errorf("session_id %q does not match the URL", *field)
	}
	*field = sessionID
	return nil
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, what string, err error) {
	switch {
	case errors.Is(err, schema.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("%s: %v", what, err))
	case errors.Is(err, schema.ErrCodeTaken):
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("%s: %v", what, err))
	case errors.Is(err, pollgen.ErrGenerator):
		s.logger.Warn("poll generation failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", what, err))
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("request failed", "op", what, "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", what, err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, schema.ErrorResponse{Error: msg})
}
