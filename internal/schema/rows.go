// Package schema defines the backend row contract shared by every backend
// implementation and by the clients that consume it: table names, row shapes
// and realtime change events.
package schema

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrCodeTaken is returned when an access code is already held by another
	// active session.
	ErrCodeTaken = errors.New("access code already in use")
)

type Table string

const (
	TableSessions       Table = "sessions"
	TableTranscriptions Table = "transcriptions"
	TablePolls          Table = "polls"
	TableParticipants   Table = "participants"
	TableAnswers        Table = "poll_answers"
)

// Tables lists every table that carries a session_id column and can be
// subscribed to.
var Tables = []Table{TableSessions, TableTranscriptions, TablePolls, TableParticipants, TableAnswers}

func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

type SessionRow struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	HostID             string    `json:"host_id"`
	SessionCode        string    `json:"session_code"`
	QuizInterval       int       `json:"quiz_interval"`
	Active             bool      `json:"active"`
	SaveTranscript     bool      `json:"save_transcript"`
	ParticipantNames   bool      `json:"participant_names"`
	AutoPublishResults bool      `json:"auto_publish_results"`
	CreatedAt          time.Time `json:"created_at"`
}

type TranscriptRow struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PollRow keeps options undecoded: depending on the writer they arrive as a
// JSON array, a JSON-encoded string or an index-keyed object.
type PollRow struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Question      string          `json:"question"`
	Options       json.RawMessage `json:"options"`
	CorrectOption *int            `json:"correct_option,omitempty"`
	GeneratedFrom string          `json:"generated_from"`
	Published     bool            `json:"published"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ParticipantRow struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// AnswerRow stores the selected option as text, normally the decimal option
// index.
type AnswerRow struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	PollID        string    `json:"poll_id"`
	ParticipantID string    `json:"participant_id"`
	Answer        string    `json:"answer"`
	CreatedAt     time.Time `json:"created_at"`
}

// Timestamp normalizes t to UTC with microsecond precision, the finest
// precision every supported database keeps. Rows created with it compare equal
// after a round-trip through any backend.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
