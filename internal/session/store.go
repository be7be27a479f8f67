// Package session keeps one client's view of a live session: transcript,
// polls, answers and roster, merged from local actions, the initial fetch and
// realtime change events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/pollcast/internal/schema"
)

const (
	defaultCodeRetries  = 5
	defaultWriteTimeout = 10 * time.Second
)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithAnswerPolicy(p AnswerPolicy) Option {
	return func(s *Store) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithCodeRetries sets how many fresh access codes Create tries after the
// backend reports a collision.
func WithCodeRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.codeRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithCodeGenerator(newCode func() string) Option {
	return func(s *Store) {
		if newCode != nil {
			s.newCode = newCode
		}
	}
}

// WithHostName sets the display name Create registers the host under.
func WithHostName(name string) Option {
	return func(s *Store) {
		if name = strings.TrimSpace(name); name != "" {
			s.hostName = name
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Store is safe for concurrent use. Watch callbacks run outside its lock.
type Store struct {
	backend      Backend
	logger       *slog.Logger
	notifier     Notifier
	policy       AnswerPolicy
	codeRetries  int
	hostName     string
	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
	newCode      func() string

	mu sync.Mutex
	// gen changes whenever the Store enters or leaves a session. Callbacks
	// and writes started under an older generation must not touch state.
	gen        uint64
	session    *Session
	user       *User
	transcript *collection[TranscriptEntry]
	polls      *collection[PollQuestion]
	responses  *collection[PollResponse]
	roster     *collection[Participant]
	published  map[string]PollResult
	subs       []io.Closer
	cancel     context.CancelFunc

	watchMu   sync.Mutex
	watchers  map[int]func(Event)
	nextWatch int

	writes sync.WaitGroup
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		logger:       slog.Default(),
		notifier:     nopNotifier{},
		policy:       AnswerAll,
		codeRetries:  defaultCodeRetries,
		hostName:     "Host",
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
		newCode:      NewAccessCode,
		published:    make(map[string]PollResult),
		watchers:     make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.transcript = newCollection(
		func(e TranscriptEntry) string { return e.ID },
		func(e TranscriptEntry) time.Time { return e.Timestamp },
		func(existing, incoming TranscriptEntry) TranscriptEntry {
			existing.Confirmed = existing.Confirmed || incoming.Confirmed
			return existing
		},
	)
	s.polls = newCollection(
		func(p PollQuestion) string { return p.ID },
		func(p PollQuestion) time.Time { return p.CreatedAt },
		func(existing, incoming PollQuestion) PollQuestion {
			// Options never change once a poll is known: answers refer to them
			// by index.
			existing.Confirmed = existing.Confirmed || incoming.Confirmed
			existing.Published = existing.Published || incoming.Published
			return existing
		},
	)
	s.responses = newCollection(
		responseKey,
		func(r PollResponse) time.Time { return r.Timestamp },
		func(existing, incoming PollResponse) PollResponse {
			existing.Confirmed = existing.Confirmed || incoming.Confirmed
			return existing
		},
	)
	s.roster = newCollection(
		func(p Participant) string { return p.ID },
		func(p Participant) time.Time { return p.JoinedAt },
		func(existing, incoming Participant) Participant {
			existing.Confirmed = existing.Confirmed || incoming.Confirmed
			return existing
		},
	)
	return s
}

// Join looks up the active session with accessCode and registers the caller
// as a participant.
func (s *Store) Join(ctx context.Context, accessCode, displayName string) (Session, error) {
	code := strings.TrimSpace(accessCode)
	name := strings.TrimSpace(displayName)
	if !validAccessCode(code) {
		return Session{}, fmt.Errorf("access code must be 6 digits: %w", ErrValidation)
	}
	if name == "" {
		return Session{}, fmt.Errorf("display name is required: %w", ErrValidation)
	}
	if s.inSession() {
		return Session{}, ErrAlreadyJoined
	}

	row, err := s.backend.FindActiveSession(ctx, code)
	if errors.Is(err, schema.ErrNotFound) {
		s.notifier.Notify(LevelWarn, fmt.Sprintf("No active session with code %s", code))
		return Session{}, fmt.Errorf("no active session with code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		s.notifier.Notify(LevelError, "Could not reach the session server")
		return Session{}, fmt.Errorf("find session %s: %w: %w", code, ErrBackend, err)
	}

	sess := SessionFromRow(row)
	user := User{ID: s.newID(), Name: name, Role: RoleParticipant}
	gen, runCtx, err := s.begin(sess, user)
	if err != nil {
		return Session{}, err
	}

	if err := s.subscribe(ctx, gen, runCtx, sess.ID); err != nil {
		s.abort(gen)
		return Session{}, err
	}

	me := Participant{ID: user.ID, Name: user.Name, JoinedAt: schema.Timestamp(s.now())}
	if err := s.backend.InsertParticipant(ctx, schema.ParticipantRow{
		ID:        me.ID,
		SessionID: sess.ID,
		Username:  me.Name,
		CreatedAt: me.JoinedAt,
	}); err != nil {
		s.abort(gen)
		s.notifier.Notify(LevelError, "Could not join the session")
		return Session{}, fmt.Errorf("register participant: %w: %w", ErrBackend, err)
	}
	me.Confirmed = true
	s.withGen(gen, func() []Event {
		if s.roster.upsert(me) {
			return []Event{{Kind: EventRoster, SessionID: sess.ID, ID: me.ID}}
		}
		return nil
	})

	for _, table := range []schema.Table{schema.TableTranscriptions, schema.TablePolls, schema.TableAnswers, schema.TableParticipants} {
		if err := s.fetch(ctx, gen, table, sess.ID); err != nil {
			_ = s.backend.DeleteParticipant(context.WithoutCancel(ctx), me.ID)
			s.abort(gen)
			s.notifier.Notify(LevelError, "Could not load the session")
			return Session{}, err
		}
	}

	s.logger.Info("joined session", "session_id", sess.ID, "participant_id", user.ID)
	s.notifier.Notify(LevelInfo, fmt.Sprintf("Joined %q", sess.Title))
	return sess, nil
}

// Create starts a new active session hosted by the caller.
func (s *Store) Create(ctx context.Context, title string, settings Settings) (Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Session{}, fmt.Errorf("title is required: %w", ErrValidation)
	}
	if settings.PollFrequency <= 0 {
		return Session{}, fmt.Errorf("poll frequency must be a positive number of minutes: %w", ErrValidation)
	}
	if s.inSession() {
		return Session{}, ErrAlreadyJoined
	}
	user := User{ID: s.newID(), Name: s.hostName, Role: RoleHost}
	sess := Session{
		ID:        s.newID(),
		Title:     title,
		HostID:    user.ID,
		Status:    StatusPending,
		Settings:  settings,
		CreatedAt: schema.Timestamp(s.now()),
	}

	var lastErr error
	for attempt := 0; attempt <= s.codeRetries; attempt++ {
		sess.AccessCode = s.newCode()
		sess.Status = StatusActive
		err := s.backend.CreateSession(ctx, sessionToRow(sess))
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if !errors.Is(err, schema.ErrCodeTaken) {
			break
		}
		s.logger.Warn("access code collision, retrying", "code", sess.AccessCode, "attempt", attempt+1)
	}
	if lastErr != nil {
		s.notifier.Notify(LevelError, "Could not create the session")
		return Session{}, fmt.Errorf("create session: %w: %w", ErrBackend, lastErr)
	}

	gen, runCtx, err := s.begin(sess, user)
	if err != nil {
		return Session{}, err
	}
	if err := s.subscribe(ctx, gen, runCtx, sess.ID); err != nil {
		s.abort(gen)
		s.notifier.Notify(LevelError, "Could not open realtime channels")
		return Session{}, err
	}

	s.logger.Info("created session", "session_id", sess.ID, "code", sess.AccessCode)
	s.notifier.Notify(LevelInfo, fmt.Sprintf("Session %q created, code %s", sess.Title, sess.AccessCode))
	return sess, nil
}

// AppendTranscript adds a transcript line locally and persists it in the
// background. A failed write is reported but the line stays.
func (s *Store) AppendTranscript(text string) (TranscriptEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TranscriptEntry{}, fmt.Errorf("transcript text is empty: %w", ErrValidation)
	}

	s.mu.Lock()
	if err := s.requireHostLocked(); err != nil {
		s.mu.Unlock()
		return TranscriptEntry{}, err
	}
	entry := TranscriptEntry{ID: s.newID(), Text: text, Timestamp: schema.Timestamp(s.now())}
	s.transcript.upsert(entry)
	gen, sessionID := s.gen, s.session.ID
	s.mu.Unlock()

	s.emit(Event{Kind: EventTranscript, SessionID: sessionID, ID: entry.ID})

	row := transcriptToRow(sessionID, entry)
	s.persist(gen, sessionID, "transcript", func(ctx context.Context) error {
		return s.backend.InsertTranscript(ctx, row)
	}, func() {
		s.transcript.update(entry.ID, func(e TranscriptEntry) TranscriptEntry {
			e.Confirmed = true
			return e
		})
	})
	return entry, nil
}

// PublishPoll adds a poll locally and persists it in the background. Missing
// id and creation time are filled in.
func (s *Store) PublishPoll(poll PollQuestion) (PollQuestion, error) {
	poll.Question = strings.TrimSpace(poll.Question)
	if poll.Question == "" {
		return PollQuestion{}, fmt.Errorf("poll question is empty: %w", ErrValidation)
	}
	if len(poll.Options) < 2 {
		return PollQuestion{}, fmt.Errorf("poll needs at least 2 options: %w", ErrValidation)
	}
	poll.Options = append([]string(nil), poll.Options...)
	for i, o := range poll.Options {
		poll.Options[i] = strings.TrimSpace(o)
		if poll.Options[i] == "" {
			return PollQuestion{}, fmt.Errorf("poll option %d is empty: %w", i+1, ErrValidation)
		}
	}
	if poll.CorrectOption != nil && (*poll.CorrectOption < 0 || *poll.CorrectOption >= len(poll.Options)) {
		return PollQuestion{}, fmt.Errorf("correct option %d out of range: %w", *poll.CorrectOption, ErrValidation)
	}

	s.mu.Lock()
	if err := s.requireHostLocked(); err != nil {
		s.mu.Unlock()
		return PollQuestion{}, err
	}
	if poll.ID == "" {
		poll.ID = s.newID()
	}
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = s.now()
	}
	poll.CreatedAt = schema.Timestamp(poll.CreatedAt)
	poll.Published = false
	poll.Confirmed = false
	if !s.polls.upsert(poll) {
		s.mu.Unlock()
		return PollQuestion{}, fmt.Errorf("poll %s already exists: %w", poll.ID, ErrValidation)
	}
	gen, sessionID := s.gen, s.session.ID
	s.mu.Unlock()

	s.emit(Event{Kind: EventPoll, SessionID: sessionID, ID: poll.ID})
	s.notifier.Notify(LevelInfo, "New poll: "+poll.Question)

	row, err := pollToRow(sessionID, poll)
	if err != nil {
		return poll, err
	}
	s.persist(gen, sessionID, "poll", func(ctx context.Context) error {
		return s.backend.InsertPoll(ctx, row)
	}, func() {
		s.polls.update(poll.ID, func(p PollQuestion) PollQuestion {
			p.Confirmed = true
			return p
		})
	})
	return poll, nil
}

// RecordResponse records the caller's answer to a known poll and persists it
// in the background.
func (s *Store) RecordResponse(resp PollResponse) (PollResponse, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return PollResponse{}, ErrNoActiveSession
	}
	if s.session.Status == StatusCompleted {
		s.mu.Unlock()
		return PollResponse{}, ErrSessionEnded
	}
	poll, ok := s.polls.get(resp.QuestionID)
	if !ok {
		s.mu.Unlock()
		return PollResponse{}, fmt.Errorf("unknown poll %q: %w", resp.QuestionID, ErrValidation)
	}
	if resp.SelectedOption < 0 || resp.SelectedOption >= len(poll.Options) {
		s.mu.Unlock()
		return PollResponse{}, fmt.Errorf("option %d out of range for %d options: %w", resp.SelectedOption+1, len(poll.Options), ErrValidation)
	}
	if resp.ID == "" {
		resp.ID = s.newID()
	}
	if resp.ParticipantID == "" {
		resp.ParticipantID = s.user.ID
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = s.now()
	}
	resp.Timestamp = schema.Timestamp(resp.Timestamp)
	resp.Confirmed = false

	gen, sessionID := s.gen, s.session.ID
	var events []Event
	if s.responses.upsert(resp) {
		events = append(events, Event{Kind: EventResponse, SessionID: sessionID, ID: resp.ID})
		events = append(events, s.afterResponseLocked(resp.QuestionID)...)
	}
	s.mu.Unlock()
	s.emit(events...)

	row := responseToRow(sessionID, resp)
	s.persist(gen, sessionID, "answer", func(ctx context.Context) error {
		return s.backend.InsertAnswer(ctx, row)
	}, func() {
		s.responses.update(responseKey(resp), func(r PollResponse) PollResponse {
			r.Confirmed = true
			return r
		})
	})
	return resp, nil
}

// ComputeResult aggregates the local answers to a poll. When the host calls
// it the result is published: recorded locally and flagged on the backend in
// the background.
func (s *Store) ComputeResult(questionID string) (PollResult, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return PollResult{}, ErrNoActiveSession
	}
	poll, ok := s.polls.get(questionID)
	if !ok {
		s.mu.Unlock()
		return PollResult{}, fmt.Errorf("poll %q: %w", questionID, ErrNotFound)
	}
	result := Tally(poll, s.responses.items(), s.policy)
	isHost := s.user.Role == RoleHost
	gen, sessionID := s.gen, s.session.ID
	if isHost {
		s.markPublishedLocked(poll.ID, result)
	}
	s.mu.Unlock()

	if !isHost {
		return result, nil
	}

	s.emit(Event{Kind: EventResult, SessionID: sessionID, ID: questionID})
	s.persist(gen, sessionID, "publish result", func(ctx context.Context) error {
		_, err := s.backend.SetPollPublished(ctx, questionID, true)
		return err
	}, nil)
	return result, nil
}

// Leave removes the caller from the roster, closes every subscription and
// clears all local state. It returns only after no subscription callback can
// run any more. The Store can join or create again afterwards.
func (s *Store) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := s.session.ID
	user := *s.user
	subs := s.subs
	cancel := s.cancel
	s.subs = nil
	s.cancel = nil
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.logger.Warn("close subscription", "session_id", sessionID, "error", err)
		}
	}

	var leaveErr error
	if user.Role == RoleParticipant {
		if err := s.backend.DeleteParticipant(ctx, user.ID); err != nil && !errors.Is(err, schema.ErrNotFound) {
			s.logger.Error("remove participant", "session_id", sessionID, "participant_id", user.ID, "error", err)
			leaveErr = fmt.Errorf("remove participant: %w: %w", ErrBackend, err)
		}
	}

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	s.logger.Info("left session", "session_id", sessionID, "user_id", user.ID)
	s.emit(Event{Kind: EventLeft, SessionID: sessionID})
	return leaveErr
}

// End marks the session completed locally and on the backend. Subscriptions
// and collections are kept so history stays readable.
func (s *Store) End(ctx context.Context) error {
	s.mu.Lock()
	if err := s.requireHostLocked(); err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrSessionEnded) {
			return nil
		}
		return err
	}
	s.session.Status = StatusCompleted
	sessionID := s.session.ID
	s.mu.Unlock()

	s.emit(Event{Kind: EventSessionEnded, SessionID: sessionID})

	if _, err := s.backend.EndSession(ctx, sessionID); err != nil {
		s.logger.Error("end session", "session_id", sessionID, "error", err)
		s.notifier.Notify(LevelError, "Session ended locally but the server was not updated")
		return fmt.Errorf("end session: %w: %w", ErrBackend, err)
	}
	s.notifier.Notify(LevelInfo, "Session ended")
	return nil
}

// Wait blocks until every background write started so far has finished.
func (s *Store) Wait() {
	s.writes.Wait()
}

// Watch registers fn for change events and returns a function that removes
// it. fn must not call Leave.
func (s *Store) Watch(fn func(Event)) func() {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.watchMu.Lock()
	fns := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (s *Store) inSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *Store) begin(sess Session, user User) (uint64, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return 0, nil, ErrAlreadyJoined
	}
	s.gen++
	s.clearLocked()
	s.session = &sess
	s.user = &user
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return s.gen, runCtx, nil
}

// abort undoes a half-finished Join or Create.
func (s *Store) abort(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	subs := s.subs
	cancel := s.cancel
	s.subs = nil
	s.cancel = nil
	s.gen++
	s.clearLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func (s *Store) clearLocked() {
	s.session = nil
	s.user = nil
	s.transcript.reset()
	s.polls.reset()
	s.responses.reset()
	s.roster.reset()
	s.published = make(map[string]PollResult)
}

func (s *Store) requireHostLocked() error {
	if s.session == nil {
		return ErrNoActiveSession
	}
	if s.user.Role != RoleHost {
		return ErrNotHost
	}
	if s.session.Status == StatusCompleted {
		return ErrSessionEnded
	}
	return nil
}

// withGen runs fn under the lock only if the Store is still in generation gen,
// then emits the events fn returned.
func (s *Store) withGen(gen uint64, fn func() []Event) bool {
	s.mu.Lock()
	if s.gen != gen || s.session == nil {
		s.mu.Unlock()
		return false
	}
	events := fn()
	s.mu.Unlock()
	s.emit(events...)
	return true
}

func (s *Store) inGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.session != nil
}

// persist runs write in the background. On success confirm runs under the
// lock if the Store is still in the same session; on failure the error is
// logged, surfaced only to that same session, and local state is left as is.
func (s *Store) persist(gen uint64, sessionID, what string, write func(context.Context) error, confirm func()) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		if err := write(ctx); err != nil {
			s.logger.Error("persist failed", "what", what, "session_id", sessionID, "error", err)
			if !s.inGen(gen) {
				return
			}
			s.notifier.Notify(LevelWarn, fmt.Sprintf("Could not save %s: %v", what, err))
			s.emit(Event{Kind: EventPersistFailed, SessionID: sessionID, Err: fmt.Errorf("%s: %w: %w", what, ErrBackend, err)})
			return
		}
		if confirm != nil {
			s.withGen(gen, func() []Event {
				confirm()
				return nil
			})
		}
	}()
}

// markPublishedLocked records result as this client's published view of the
// poll.
func (s *Store) markPublishedLocked(pollID string, result PollResult) {
	s.published[pollID] = result
	s.polls.update(pollID, func(p PollQuestion) PollQuestion {
		p.Published = true
		return p
	})
}

// afterResponseLocked keeps published results current after a new answer to
// questionID and auto-publishes for a host that asked for it.
func (s *Store) afterResponseLocked(questionID string) []Event {
	poll, ok := s.polls.get(questionID)
	if !ok {
		return nil
	}
	sessionID := s.session.ID
	if _, published := s.published[questionID]; published {
		s.published[questionID] = Tally(poll, s.responses.items(), s.policy)
		return []Event{{Kind: EventResult, SessionID: sessionID, ID: questionID}}
	}
	if s.user.Role == RoleHost && s.session.Settings.AutoPublishResults {
		s.markPublishedLocked(questionID, Tally(poll, s.responses.items(), s.policy))
		gen := s.gen
		s.persist(gen, sessionID, "publish result", func(ctx context.Context) error {
			_, err := s.backend.SetPollPublished(ctx, questionID, true)
			return err
		}, nil)
		return []Event{{Kind: EventResult, SessionID: sessionID, ID: questionID}}
	}
	return nil
}
