// Package backend provides the row store clients use: Local runs storage and
// realtime fan-out in-process, Remote talks to a pollcast server.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sjawhar/pollcast/internal/realtime"
	"github.com/sjawhar/pollcast/internal/schema"
	"github.com/sjawhar/pollcast/internal/storage"
)

// Local persists rows in a storage.Store and publishes each committed change
// on the hub.
type Local struct {
	store  *storage.Store
	hub    *realtime.Hub
	logger *slog.Logger
}

func NewLocal(store *storage.Store, hub *realtime.Hub, logger *slog.Logger) *Local {
	if hub == nil {
		hub = realtime.NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{store: store, hub: hub, logger: logger}
}

func (l *Local) Hub() *realtime.Hub {
	return l.hub
}

func (l *Local) Store() *storage.Store {
	return l.store
}

func (l *Local) CreateSession(ctx context.Context, row schema.SessionRow) error {
	row.CreatedAt = schema.Timestamp(row.CreatedAt)
	if err := l.store.CreateSession(ctx, row); err != nil {
		return err
	}
	l.publish(schema.TableSessions, schema.EventInsert, row.ID, row)
	return nil
}

func (l *Local) FindActiveSession(ctx context.Context, code string) (schema.SessionRow, error) {
	return l.store.FindActiveSession(ctx, code)
}

func (l *Local) GetSession(ctx context.Context, id string) (schema.SessionRow, error) {
	return l.store.GetSession(ctx, id)
}

func (l *Local) EndSession(ctx context.Context, id string) (schema.SessionRow, error) {
	row, err := l.store.EndSession(ctx, id)
	if err != nil {
		return schema.SessionRow{}, err
	}
	l.publish(schema.TableSessions, schema.EventUpdate, row.ID, row)
	return row, nil
}

func (l *Local) InsertTranscript(ctx context.Context, row schema.TranscriptRow) error {
	created, err := l.store.InsertTranscript(ctx, row)
	if err != nil {
		return err
	}
	if created {
		l.publish(schema.TableTranscriptions, schema.EventInsert, row.SessionID, row)
	}
	return nil
}

func (l *Local) ListTranscripts(ctx context.Context, sessionID string) ([]schema.TranscriptRow, error) {
	return l.store.ListTranscripts(ctx, sessionID)
}

func (l *Local) InsertPoll(ctx context.Context, row schema.PollRow) error {
	created, err := l.store.InsertPoll(ctx, row)
	if err != nil {
		return err
	}
	if created {
		l.publish(schema.TablePolls, schema.EventInsert, row.SessionID, row)
	}
	return nil
}

func (l *Local) ListPolls(ctx context.Context, sessionID string) ([]schema.PollRow, error) {
	return l.store.ListPolls(ctx, sessionID)
}

func (l *Local) SetPollPublished(ctx context.Context, pollID string, published bool) (schema.PollRow, error) {
	row, err := l.store.SetPollPublished(ctx, pollID, published)
	if err != nil {
		return schema.PollRow{}, err
	}
	l.publish(schema.TablePolls, schema.EventUpdate, row.SessionID, row)
	return row, nil
}

func (l *Local) InsertParticipant(ctx context.Context, row schema.ParticipantRow) error {
	created, err := l.store.InsertParticipant(ctx, row)
	if err != nil {
		return err
	}
	if created {
		l.publish(schema.TableParticipants, schema.EventInsert, row.SessionID, row)
	}
	return nil
}

func (l *Local) ListParticipants(ctx context.Context, sessionID string) ([]schema.ParticipantRow, error) {
	return l.store.ListParticipants(ctx, sessionID)
}

func (l *Local) DeleteParticipant(ctx context.Context, id string) error {
	row, err := l.store.DeleteParticipant(ctx, id)
	if err != nil {
		return err
	}
	l.publish(schema.TableParticipants, schema.EventDelete, row.SessionID, row)
	return nil
}

func (l *Local) InsertAnswer(ctx context.Context, row schema.AnswerRow) error {
	created, err := l.store.InsertAnswer(ctx, row)
	if err != nil {
		return err
	}
	if created {
		l.publish(schema.TableAnswers, schema.EventInsert, row.SessionID, row)
	}
	return nil
}

func (l *Local) ListAnswers(ctx context.Context, sessionID string) ([]schema.AnswerRow, error) {
	return l.store.ListAnswers(ctx, sessionID)
}

func (l *Local) ClaimPollRequest(ctx context.Context, sessionID, excerptHash string) (bool, error) {
	return l.store.ClaimPollRequest(ctx, sessionID, excerptHash)
}

func (l *Local) ReleasePollRequest(ctx context.Context, sessionID, excerptHash string) error {
	return l.store.ReleasePollRequest(ctx, sessionID, excerptHash)
}

// Subscribe delivers every change on the (table, sessionID) channel to fn on
// a dedicated goroutine. If the hub drops the subscription for lagging, it is
// re-established and fn receives a resync event. The returned Closer stops
// delivery; fn is never called after Close returns. Close must not be called
// from inside fn.
func (l *Local) Subscribe(_ context.Context, table schema.Table, sessionID string, fn func(schema.Change)) (io.Closer, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("subscribe: unknown table %q", table)
	}

	sub := &localSubscription{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	hs := l.hub.Subscribe(table, sessionID)
	go sub.pump(l.hub, hs, fn, l.logger)
	return sub, nil
}

func (l *Local) publish(table schema.Table, eventType schema.EventType, sessionID string, row any) {
	change, err := schema.NewChange(table, eventType, sessionID, row)
	if err != nil {
		l.logger.Error("build change event", "table", table, "session_id", sessionID, "error", err)
		return
	}
	l.hub.Publish(change)
}

type localSubscription struct {
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func (s *localSubscription) pump(hub *realtime.Hub, hs *realtime.Subscription, fn func(schema.Change), logger *slog.Logger) {
	defer close(s.stopped)
	defer func() { hub.Unsubscribe(hs) }()

	for {
		select {
		case <-s.done:
			return
		case change, ok := <-hs.C():
			if !ok {
				select {
				case <-s.done:
					return
				default:
				}
				logger.Warn("realtime subscriber lagged, resyncing", "table", hs.Table(), "session_id", hs.SessionID())
				hs = hub.Subscribe(hs.Table(), hs.SessionID())
				fn(schema.Resync(hs.Table(), hs.SessionID()))
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			fn(change)
		}
	}
}

func (s *localSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}
