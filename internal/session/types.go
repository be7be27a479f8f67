package session

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/sjawhar/pollcast/internal/schema"
)

// Backend is the persistence and realtime contract the Store needs.
// backend.Local and backend.Remote both satisfy it.
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

	Subscribe(ctx context.Context, table schema.Table, sessionID string, fn func(schema.Change)) (io.Closer, error)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type Settings struct {
	// PollFrequency is the automatic poll cadence in minutes.
	PollFrequency      int
	SaveTranscript     bool
	ParticipantNames   bool
	AutoPublishResults bool
}

func (s Settings) Interval() time.Duration {
	return time.Duration(s.PollFrequency) * time.Minute
}

type Session struct {
	ID         string
	Title      string
	HostID     string
	AccessCode string
	Status     Status
	Settings   Settings
	CreatedAt  time.Time
}

type User struct {
	ID   string
	Name string
	Role Role
}

type TranscriptEntry struct {
	ID        string
	Text      string
	Timestamp time.Time
	// Confirmed is false for an optimistic local insert until the backend
	// accepts the write or echoes the row back.
	Confirmed bool
}

type PollQuestion struct {
	ID            string
	Question      string
	Options       []string
	CorrectOption *int
	GeneratedFrom string
	CreatedAt     time.Time
	Published     bool
	Confirmed     bool
}

type PollResponse struct {
	ID             string
	QuestionID     string
	ParticipantID  string
	SelectedOption int
	Timestamp      time.Time
	Confirmed      bool
}

type Participant struct {
	ID        string
	Name      string
	JoinedAt  time.Time
	Confirmed bool
}

// PollResult is a snapshot aggregation of the responses to one poll.
// Responses[i] counts answers for Options[i].
type PollResult struct {
	QuestionID     string
	Question       string
	Options        []string
	Responses      []int
	TotalResponses int
}

// Percentages returns round(count/total*100) per option, all zero when no one
// answered.
func (r PollResult) Percentages() []int {
	out := make([]int, len(r.Responses))
	if r.TotalResponses == 0 {
		return out
	}
	for i, c := range r.Responses {
		out[i] = int(math.Round(float64(c) * 100 / float64(r.TotalResponses)))
	}
	return out
}
