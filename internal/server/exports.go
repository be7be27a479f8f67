package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sjawhar/pollcast/internal/export"
	"github.com/sjawhar/pollcast/internal/session"
)

func (s *server) registerExportRoutes(r chi.Router) {
	r.Get("/sessions/{id}/transcript.txt", s.transcriptExport)
	r.Get("/sessions/{id}/results.txt", s.resultsExport)
}

func (s *server) transcriptExport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.backend.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "export transcript", err)
		return
	}
	rows, err := s.backend.ListTranscripts(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "export transcript", err)
		return
	}

	entries := make([]session.TranscriptEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, session.TranscriptFromRow(row))
	}
	loc, err := exportLocation(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, export.TranscriptName(sess.Title, sess.CreatedAt), export.Transcript(entries, loc))
}

// resultsExport tallies published polls, or every poll with ?all=true.
func (s *server) resultsExport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.backend.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "export results", err)
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	pollRows, err := s.backend.ListPolls(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "export results", err)
		return
	}
	answerRows, err := s.backend.ListAnswers(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, "export results", err)
		return
	}

	var results []session.PollResult
	for _, row := range pollRows {
		if !row.Published && !all {
			continue
		}
		poll, decoded := session.PollFromRow(row)
		if decoded.Err != nil {
			s.logger.Error("poll options could not be decoded", "poll_id", row.ID, "error", decoded.Err)
		}

		var responses []session.PollResponse
		for _, a := range answerRows {
			if a.PollID != poll.ID {
				continue
			}
			resp, err := session.ResponseFromRow(a, poll.Options)
			if err != nil {
				s.logger.Warn("skipping unreadable answer", "answer_id", a.ID, "error", err)
				continue
			}
			responses = append(responses, resp)
		}
		results = append(results, session.Tally(poll, responses, s.hooks.AnswerPolicy))
	}
	writeText(w, export.ResultsName(sess.CreatedAt), export.Results(results))
}

func exportLocation(r *http.Request) (*time.Location, error) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", tz)
	}
	return loc, nil
}

func writeText(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
