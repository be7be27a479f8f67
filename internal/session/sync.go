package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sjawhar/pollcast/internal/schema"
)

// subscribe opens one channel per table before anything is fetched, so a row
// committed while the fetch runs arrives at least once. Duplicates are
// absorbed by the merge.
func (s *Store) subscribe(ctx context.Context, gen uint64, runCtx context.Context, sessionID string) error {
	subs := make([]io.Closer, 0, len(schema.Tables))
	closeAll := func() {
		for _, sub := range subs {
			_ = sub.Close()
		}
	}

	for _, table := range schema.Tables {
		sub, err := s.backend.Subscribe(ctx, table, sessionID, func(change schema.Change) {
			s.apply(runCtx, gen, sessionID, change)
		})
		if err != nil {
			closeAll()
			return fmt.Errorf("subscribe to %s: %w: %w", table, ErrBackend, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		closeAll()
		return ErrNoActiveSession
	}
	s.subs = subs
	s.mu.Unlock()
	return nil
}

func (s *Store) apply(ctx context.Context, gen uint64, sessionID string, change schema.Change) {
	if change.SessionID != "" && change.SessionID != sessionID {
		return
	}

	if change.Type == schema.EventResync {
		if err := s.fetch(ctx, gen, change.Table, sessionID); err != nil && ctx.Err() == nil {
			s.logger.Warn("resync failed", "table", change.Table, "session_id", sessionID, "error", err)
		}
		return
	}

	logger := s.logger.With("table", change.Table, "session_id", sessionID, "type", change.Type)
	switch change.Table {
	case schema.TableSessions:
		var row schema.SessionRow
		if err := json.Unmarshal(change.Row, &row); err != nil {
			logger.Warn("decode change row", "error", err)
			return
		}
		s.withGen(gen, func() []Event { return s.mergeSessionLocked(row) })
	case schema.TableTranscriptions:
		var row schema.TranscriptRow
		if err := json.Unmarshal(change.Row, &row); err != nil {
			logger.Warn("decode change row", "error", err)
			return
		}
		s.withGen(gen, func() []Event { return s.mergeTranscriptLocked(row) })
	case schema.TablePolls:
		var row schema.PollRow
		if err := json.Unmarshal(change.Row, &row); err != nil {
			logger.Warn("decode change row", "error", err)
			return
		}
		s.withGen(gen, func() []Event { return s.mergePollLocked(row) })
	case schema.TableParticipants:
		var row schema.ParticipantRow
		if err := json.Unmarshal(change.Row, &row); err != nil {
			logger.Warn("decode change row", "error", err)
			return
		}
		deleted := change.Type == schema.EventDelete
		s.withGen(gen, func() []Event { return s.mergeParticipantLocked(row, deleted) })
	case schema.TableAnswers:
		var row schema.AnswerRow
		if err := json.Unmarshal(change.Row, &row); err != nil {
			logger.Warn("decode change row", "error", err)
			return
		}
		s.withGen(gen, func() []Event { return s.mergeAnswerLocked(row) })
	default:
		logger.Warn("change for unknown table")
	}
}

// fetch loads a whole table for the session and merges it through the same
// path as change events.
func (s *Store) fetch(ctx context.Context, gen uint64, table schema.Table, sessionID string) error {
	wrap := func(err error) error {
		return fmt.Errorf("fetch %s: %w: %w", table, ErrBackend, err)
	}

	switch table {
	case schema.TableSessions:
		row, err := s.backend.GetSession(ctx, sessionID)
		if err != nil {
			return wrap(err)
		}
		s.withGen(gen, func() []Event { return s.mergeSessionLocked(row) })
	case schema.TableTranscriptions:
		rows, err := s.backend.ListTranscripts(ctx, sessionID)
		if err != nil {
			return wrap(err)
		}
		s.withGen(gen, func() []Event {
			var events []Event
			for _, row := range rows {
				events = append(events, s.mergeTranscriptLocked(row)...)
			}
			return events
		})
	case schema.TablePolls:
		rows, err := s.backend.ListPolls(ctx, sessionID)
		if err != nil {
			return wrap(err)
		}
		s.withGen(gen, func() []Event {
			var events []Event
			for _, row := range rows {
				events = append(events, s.mergePollLocked(row)...)
			}
			return events
		})
	case schema.TableParticipants:
		rows, err := s.backend.ListParticipants(ctx, sessionID)
		if err != nil {
			return wrap(err)
		}
		s.withGen(gen, func() []Event {
			var events []Event
			for _, row := range rows {
				events = append(events, s.mergeParticipantLocked(row, false)...)
			}
			return events
		})
	case schema.TableAnswers:
		rows, err := s.backend.ListAnswers(ctx, sessionID)
		if err != nil {
			return wrap(err)
		}
		s.withGen(gen, func() []Event {
			var events []Event
			for _, row := range rows {
				events = append(events, s.mergeAnswerLocked(row)...)
			}
			return events
		})
	default:
		return fmt.Errorf("fetch: unknown table %q", table)
	}
	return nil
}

func (s *Store) mergeSessionLocked(row schema.SessionRow) []Event {
	if row.ID != s.session.ID {
		return nil
	}
	if !row.Active && s.session.Status != StatusCompleted {
		s.session.Status = StatusCompleted
		return []Event{{Kind: EventSessionEnded, SessionID: row.ID}}
	}
	return nil
}

func (s *Store) mergeTranscriptLocked(row schema.TranscriptRow) []Event {
	entry := TranscriptFromRow(row)
	if s.transcript.upsert(entry) {
		return []Event{{Kind: EventTranscript, SessionID: s.session.ID, ID: entry.ID}}
	}
	return nil
}

func (s *Store) mergePollLocked(row schema.PollRow) []Event {
	poll, decoded := PollFromRow(row)
	if decoded.Fallback {
		s.logger.Error("decode poll options, using placeholders",
			"poll_id", row.ID, "session_id", s.session.ID, "options", string(row.Options), "error", decoded.Err)
	}

	var events []Event
	if s.polls.upsert(poll) {
		events = append(events, Event{Kind: EventPoll, SessionID: s.session.ID, ID: poll.ID})
	}

	merged, _ := s.polls.get(poll.ID)
	if merged.Published {
		if _, seen := s.published[merged.ID]; !seen {
			s.published[merged.ID] = Tally(merged, s.responses.items(), s.policy)
			events = append(events, Event{Kind: EventResult, SessionID: s.session.ID, ID: merged.ID})
		}
	}
	return events
}

func (s *Store) mergeParticipantLocked(row schema.ParticipantRow, deleted bool) []Event {
	if deleted {
		if s.roster.remove(row.ID) {
			return []Event{{Kind: EventRoster, SessionID: s.session.ID, ID: row.ID}}
		}
		return nil
	}
	if s.roster.upsert(ParticipantFromRow(row)) {
		return []Event{{Kind: EventRoster, SessionID: s.session.ID, ID: row.ID}}
	}
	return nil
}

func (s *Store) mergeAnswerLocked(row schema.AnswerRow) []Event {
	var options []string
	if poll, ok := s.polls.get(row.PollID); ok {
		options = poll.Options
	}
	resp, err := ResponseFromRow(row, options)
	if err != nil {
		s.logger.Warn("discarding answer", "session_id", s.session.ID, "poll_id", row.PollID, "error", err)
		return nil
	}
	if !s.responses.upsert(resp) {
		return nil
	}
	events := []Event{{Kind: EventResponse, SessionID: s.session.ID, ID: resp.ID}}
	return append(events, s.afterResponseLocked(resp.QuestionID)...)
}
