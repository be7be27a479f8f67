package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sjawhar/pollcast/internal/schema"
)

// fakeBackend keeps rows in memory. Inserts do not echo change events; tests
// deliver them explicitly so interleavings are under their control.
type fakeBackend struct {
	mu           sync.Mutex
	sessions     map[string]schema.SessionRow
	transcripts  []schema.TranscriptRow
	polls        []schema.PollRow
	participants []schema.ParticipantRow
	answers      []schema.AnswerRow
	published    []string
	takenCodes   map[string]bool
	writeErr     error
	writeGate    chan struct{}
	subs         map[*fakeSub]struct{}
	closedSubs   int
}

type fakeSub struct {
	b         *fakeBackend
	table     schema.Table
	sessionID string
	fn        func(schema.Change)
}

func (s *fakeSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s]; ok {
		delete(s.b.subs, s)
		s.b.closedSubs++
	}
	return nil
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:   make(map[string]schema.SessionRow),
		takenCodes: make(map[string]bool),
		subs:       make(map[*fakeSub]struct{}),
	}
}

func (b *fakeBackend) failWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// holdTranscriptWrites blocks transcript inserts until release is called.
func (b *fakeBackend) holdTranscriptWrites() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.writeGate = gate
	b.mu.Unlock()
	return func() { close(gate) }
}

func (b *fakeBackend) openSubs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBackend) deliver(change schema.Change) {
	b.mu.Lock()
	var targets []*fakeSub
	for sub := range b.subs {
		if sub.table == change.Table && sub.sessionID == change.SessionID {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.fn(change)
	}
}

// captureCallbacks returns the callbacks of every open subscription. They
// stay callable after the subscription is closed, like a late delivery.
func (b *fakeBackend) captureCallbacks() []func(schema.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var fns []func(schema.Change)
	for sub := range b.subs {
		fns = append(fns, sub.fn)
	}
	return fns
}

func (b *fakeBackend) CreateSession(_ context.Context, row schema.SessionRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.takenCodes[row.SessionCode] {
		return schema.ErrCodeTaken
	}
	b.takenCodes[row.SessionCode] = true
	b.sessions[row.ID] = row
	return nil
}

func (b *fakeBackend) FindActiveSession(_ context.Context, code string) (schema.SessionRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range b.sessions {
		if row.SessionCode == code && row.Active {
			return row, nil
		}
	}
	return schema.SessionRow{}, schema.ErrNotFound
}

func (b *fakeBackend) GetSession(_ context.Context, id string) (schema.SessionRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.sessions[id]
	if !ok {
		return schema.SessionRow{}, schema.ErrNotFound
	}
	return row, nil
}

func (b *fakeBackend) EndSession(_ context.Context, id string) (schema.SessionRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return schema.SessionRow{}, b.writeErr
	}
	row, ok := b.sessions[id]
	if !ok {
		return schema.SessionRow{}, schema.ErrNotFound
	}
	row.Active = false
	b.sessions[id] = row
	return row, nil
}

func (b *fakeBackend) InsertTranscript(_ context.Context, row schema.TranscriptRow) error {
	b.mu.Lock()
	gate := b.writeGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.transcripts = append(b.transcripts, row)
	return nil
}

func (b *fakeBackend) ListTranscripts(_ context.Context, sessionID string) ([]schema.TranscriptRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.TranscriptRow
	for _, row := range b.transcripts {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *fakeBackend) InsertPoll(_ context.Context, row schema.PollRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.polls = append(b.polls, row)
	return nil
}

func (b *fakeBackend) ListPolls(_ context.Context, sessionID string) ([]schema.PollRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.PollRow
	for _, row := range b.polls {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *fakeBackend) SetPollPublished(_ context.Context, pollID string, published bool) (schema.PollRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return schema.PollRow{}, b.writeErr
	}
	for i := range b.polls {
		if b.polls[i].ID == pollID {
			b.polls[i].Published = published
			b.published = append(b.published, pollID)
			return b.polls[i], nil
		}
	}
	return schema.PollRow{}, schema.ErrNotFound
}

func (b *fakeBackend) InsertParticipant(_ context.Context, row schema.ParticipantRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.participants = append(b.participants, row)
	return nil
}

func (b *fakeBackend) ListParticipants(_ context.Context, sessionID string) ([]schema.ParticipantRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.ParticipantRow
	for _, row := range b.participants {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *fakeBackend) DeleteParticipant(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, row := range b.participants {
		if row.ID == id {
			b.participants = append(b.participants[:i], b.participants[i+1:]...)
			return nil
		}
	}
	return schema.ErrNotFound
}

func (b *fakeBackend) InsertAnswer(_ context.Context, row schema.AnswerRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.answers = append(b.answers, row)
	return nil
}

func (b *fakeBackend) ListAnswers(_ context.Context, sessionID string) ([]schema.AnswerRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.AnswerRow
	for _, row := range b.answers {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *fakeBackend) Subscribe(_ context.Context, table schema.Table, sessionID string, fn func(schema.Change)) (io.Closer, error) {
	if !table.Valid() {
		return nil, errors.New("unknown table")
	}
	sub := &fakeSub{b: b, table: table, sessionID: sessionID, fn: fn}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}
