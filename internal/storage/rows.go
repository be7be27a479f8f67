package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/pollcast/internal/schema"
)

const sessionColumns = `id, title, host_id, session_code, quiz_interval, active, save_transcript, participant_names, auto_publish_results, created_at`

func (s *Store) CreateSession(ctx context.Context, row schema.SessionRow) error {
	if strings.TrimSpace(row.ID) == "" {
		return errors.New("session id is required")
	}

	_, err := s.exec(ctx,
		`INSERT INTO sessions(`+sessionColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.Title,
		row.HostID,
		row.SessionCode,
		row.QuizInterval,
		row.Active,
		row.SaveTranscript,
		row.ParticipantNames,
		row.AutoPublishResults,
		formatTime(row.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session %s: %w", row.ID, schema.ErrCodeTaken)
		}
		return fmt.Errorf("create session %s: %w", row.ID, err)
	}
	return nil
}

func (s *Store) FindActiveSession(ctx context.Context, code string) (schema.SessionRow, error) {
	row := s.queryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_code = ? AND active = TRUE`,
		code,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.SessionRow{}, fmt.Errorf("session with code %s: %w", code, schema.ErrNotFound)
	}
	if err != nil {
		return schema.SessionRow{}, fmt.Errorf("query session by code: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (schema.SessionRow, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.SessionRow{}, fmt.Errorf("session %s: %w", id, schema.ErrNotFound)
	}
	if err != nil {
		return schema.SessionRow{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

// EndSession marks the session inactive and returns the updated row.
func (s *Store) EndSession(ctx context.Context, id string) (schema.SessionRow, error) {
	res, err := s.exec(ctx, `UPDATE sessions SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return schema.SessionRow{}, fmt.Errorf("end session %s: %w", id, err)
	}
	if err := expectRows(res, "end session"); err != nil {
		return schema.SessionRow{}, fmt.Errorf("session %s: %w", id, err)
	}
	return s.GetSession(ctx, id)
}

// InsertTranscript reports whether a new row was written; a replayed id is a
// no-op.
func (s *Store) InsertTranscript(ctx context.Context, row schema.TranscriptRow) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO transcriptions(id, session_id, text, created_at) VALUES(?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		row.ID,
		row.SessionID,
		row.Text,
		formatTime(row.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert transcript for session %s: %w", row.SessionID, err)
	}
	return affected(res)
}

func (s *Store) ListTranscripts(ctx context.Context, sessionID string) ([]schema.TranscriptRow, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, text, created_at FROM transcriptions WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]schema.TranscriptRow, 0, 32)
	for rows.Next() {
		var row schema.TranscriptRow
		var ts string
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan transcript for session %s: %w", sessionID, err)
		}
		if row.CreatedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse transcript %s created_at: %w", row.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for session %s: %w", sessionID, err)
	}
	return out, nil
}

func (s *Store) InsertPoll(ctx context.Context, row schema.PollRow) (bool, error) {
	options := string(row.Options)
	if options == "" {
		options = "[]"
	}

	var correct sql.NullInt64
	if row.CorrectOption != nil {
		correct = sql.NullInt64{Int64: int64(*row.CorrectOption), Valid: true}
	}

	res, err := s.exec(ctx,
		`INSERT INTO polls(id, session_id, question, options, correct_option, generated_from, published, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		row.ID,
		row.SessionID,
		row.Question,
		options,
		correct,
		row.GeneratedFrom,
		row.Published,
		formatTime(row.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert poll for session %s: %w", row.SessionID, err)
	}
	return affected(res)
}

func (s *Store) GetPoll(ctx context.Context, id string) (schema.PollRow, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, question, options, correct_option, generated_from, published, created_at FROM polls WHERE id = ?`,
		id,
	)
	if err != nil {
		return schema.PollRow{}, fmt.Errorf("query poll %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	polls, err := scanPolls(rows)
	if err != nil {
		return schema.PollRow{}, err
	}
	if len(polls) == 0 {
		return schema.PollRow{}, fmt.Errorf("poll %s: %w", id, schema.ErrNotFound)
	}
	return polls[0], nil
}

func (s *Store) ListPolls(ctx context.Context, sessionID string) ([]schema.PollRow, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, question, options, correct_option, generated_from, published, created_at
		 FROM polls WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query polls for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanPolls(rows)
}

// SetPollPublished flips the published flag and returns the updated row.
func (s *Store) SetPollPublished(ctx context.Context, pollID string, published bool) (schema.PollRow, error) {
	res, err := s.exec(ctx, `UPDATE polls SET published = ? WHERE id = ?`, published, pollID)
	if err != nil {
		return schema.PollRow{}, fmt.Errorf("update poll %s published: %w", pollID, err)
	}
	if err := expectRows(res, "update poll published"); err != nil {
		return schema.PollRow{}, fmt.Errorf("poll %s: %w", pollID, err)
	}
	return s.GetPoll(ctx, pollID)
}

func (s *Store) InsertParticipant(ctx context.Context, row schema.ParticipantRow) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO participants(id, session_id, username, created_at) VALUES(?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		row.ID,
		row.SessionID,
		row.Username,
		formatTime(row.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert participant for session %s: %w", row.SessionID, err)
	}
	return affected(res)
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]schema.ParticipantRow, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, username, created_at FROM participants WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]schema.ParticipantRow, 0, 16)
	for rows.Next() {
		row, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant for session %s: %w", sessionID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows for session %s: %w", sessionID, err)
	}
	return out, nil
}

// DeleteParticipant removes the participant and returns the deleted row.
func (s *Store) DeleteParticipant(ctx context.Context, id string) (schema.ParticipantRow, error) {
	row, err := scanParticipant(s.queryRow(ctx,
		`SELECT id, session_id, username, created_at FROM participants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.ParticipantRow{}, fmt.Errorf("participant %s: %w", id, schema.ErrNotFound)
	}
	if err != nil {
		return schema.ParticipantRow{}, fmt.Errorf("query participant %s: %w", id, err)
	}

	if _, err := s.exec(ctx, `DELETE FROM participants WHERE id = ?`, id); err != nil {
		return schema.ParticipantRow{}, fmt.Errorf("delete participant %s: %w", id, err)
	}
	return row, nil
}

func (s *Store) InsertAnswer(ctx context.Context, row schema.AnswerRow) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO poll_answers(id, session_id, poll_id, participant_id, answer, created_at)
		 VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		row.ID,
		row.SessionID,
		row.PollID,
		row.ParticipantID,
		row.Answer,
		formatTime(row.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert answer for poll %s: %w", row.PollID, err)
	}
	return affected(res)
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]schema.AnswerRow, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, poll_id, participant_id, answer, created_at
		 FROM poll_answers WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answers for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]schema.AnswerRow, 0, 32)
	for rows.Next() {
		var row schema.AnswerRow
		var ts string
		if err := rows.Scan(&row.ID, &row.SessionID, &row.PollID, &row.ParticipantID, &row.Answer, &ts); err != nil {
			return nil, fmt.Errorf("scan answer for session %s: %w", sessionID, err)
		}
		if row.CreatedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse answer %s created_at: %w", row.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer rows for session %s: %w", sessionID, err)
	}
	return out, nil
}

// ClaimPollRequest records that a poll is being generated for the given
// excerpt. It returns false when the same excerpt was already claimed for the
// session.
func (s *Store) ClaimPollRequest(ctx context.Context, sessionID, excerptHash string) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO poll_requests(session_id, excerpt_hash, created_at) VALUES(?, ?, ?)
		 ON CONFLICT (session_id, excerpt_hash) DO NOTHING`,
		sessionID,
		excerptHash,
		formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("claim poll request for session %s: %w", sessionID, err)
	}
	return affected(res)
}

// ReleasePollRequest drops a claim so the excerpt can be generated again.
func (s *Store) ReleasePollRequest(ctx context.Context, sessionID, excerptHash string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM poll_requests WHERE session_id = ? AND excerpt_hash = ?`,
		sessionID,
		excerptHash,
	); err != nil {
		return fmt.Errorf("release poll request for session %s: %w", sessionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (schema.SessionRow, error) {
	var sess schema.SessionRow
	var createdAt string
	if err := row.Scan(
		&sess.ID, &sess.Title, &sess.HostID, &sess.SessionCode, &sess.QuizInterval,
		&sess.Active, &sess.SaveTranscript, &sess.ParticipantNames, &sess.AutoPublishResults,
		&createdAt,
	); err != nil {
		return schema.SessionRow{}, err
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return schema.SessionRow{}, fmt.Errorf("parse session %s created_at: %w", sess.ID, err)
	}
	sess.CreatedAt = parsed
	return sess, nil
}

func scanParticipant(row rowScanner) (schema.ParticipantRow, error) {
	var p schema.ParticipantRow
	var createdAt string
	if err := row.Scan(&p.ID, &p.SessionID, &p.Username, &createdAt); err != nil {
		return schema.ParticipantRow{}, err
	}
	parsed, err := parseTime(createdAt)
	if err != nil {
		return schema.ParticipantRow{}, fmt.Errorf("parse participant %s created_at: %w", p.ID, err)
	}
	p.CreatedAt = parsed
	return p, nil
}

func scanPolls(rows *sql.Rows) ([]schema.PollRow, error) {
	out := make([]schema.PollRow, 0, 8)
	for rows.Next() {
		var poll schema.PollRow
		var options, createdAt string
		var correct sql.NullInt64
		if err := rows.Scan(&poll.ID, &poll.SessionID, &poll.Question, &options, &correct,
			&poll.GeneratedFrom, &poll.Published, &createdAt); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}

		poll.Options = rawOptions(options)
		if correct.Valid {
			idx := int(correct.Int64)
			poll.CorrectOption = &idx
		}

		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse poll %s created_at: %w", poll.ID, err)
		}
		poll.CreatedAt = parsed
		out = append(out, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poll rows: %w", err)
	}
	return out, nil
}

// rawOptions passes stored option JSON through untouched. Text that is not
// valid JSON is wrapped as a JSON string so the row still serializes; readers
// decide how to interpret it.
func rawOptions(stored string) json.RawMessage {
	if json.Valid([]byte(stored)) {
		return json.RawMessage(stored)
	}
	wrapped, _ := json.Marshal(stored)
	return json.RawMessage(wrapped)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return schema.ErrNotFound
	}
	return nil
}
