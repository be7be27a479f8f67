package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/pollcast/internal/backend"
	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/realtime"
	"github.com/sjawhar/pollcast/internal/schema"
	"github.com/sjawhar/pollcast/internal/server"
	"github.com/sjawhar/pollcast/internal/storage"
)

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newRemote(t *testing.T, hooks server.ControlHooks) *backend.Remote {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := realtime.NewHub()
	srv := httptest.NewServer(server.Handler(backend.NewLocal(store, hub, nil), hub, hooks))
	t.Cleanup(srv.Close)

	remote, err := backend.NewRemote(srv.URL)
	require.NoError(t, err)
	return remote
}

func TestRemoteRoundTrip(t *testing.T) {
	remote := newRemote(t, server.ControlHooks{})
	ctx := context.Background()

	sess := schema.SessionRow{ID: "s-1", Title: "Bio", HostID: "h-1", SessionCode: "123456", QuizInterval: 2, Active: true, CreatedAt: created}
	require.NoError(t, remote.CreateSession(ctx, sess))

	dup := sess
	dup.ID = "s-2"
	require.ErrorIs(t, remote.CreateSession(ctx, dup), schema.ErrCodeTaken)

	found, err := remote.FindActiveSession(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, "s-1", found.ID)

	_, err = remote.GetSession(ctx, "missing")
	require.ErrorIs(t, err, schema.ErrNotFound)

	require.NoError(t, remote.InsertPoll(ctx, schema.PollRow{ID: "p-1", SessionID: "s-1", Question: "Q?", Options: json.RawMessage(`["a","b"]`), CreatedAt: created}))
	polls, err := remote.ListPolls(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, polls, 1)
	require.JSONEq(t, `["a","b"]`, string(polls[0].Options))

	updated, err := remote.SetPollPublished(ctx, "p-1", true)
	require.NoError(t, err)
	require.True(t, updated.Published)

	require.NoError(t, remote.InsertParticipant(ctx, schema.ParticipantRow{ID: "u-1", SessionID: "s-1", Username: "Ada", CreatedAt: created}))
	require.NoError(t, remote.InsertAnswer(ctx, schema.AnswerRow{ID: "a-1", SessionID: "s-1", PollID: "p-1", ParticipantID: "u-1", Answer: "1", CreatedAt: created}))
	answers, err := remote.ListAnswers(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, answers, 1)

	require.NoError(t, remote.DeleteParticipant(ctx, "u-1"))
	participants, err := remote.ListParticipants(ctx, "s-1")
	require.NoError(t, err)
	require.Empty(t, participants)

	ended, err := remote.EndSession(ctx, "s-1")
	require.NoError(t, err)
	require.False(t, ended.Active)
}

func TestRemoteSubscribeReceivesInserts(t *testing.T) {
	remote := newRemote(t, server.ControlHooks{})
	ctx := context.Background()
	require.NoError(t, remote.CreateSession(ctx, schema.SessionRow{ID: "s-1", Title: "Bio", HostID: "h", SessionCode: "111111", QuizInterval: 1, Active: true, CreatedAt: created}))

	got := make(chan schema.Change, 8)
	sub, err := remote.Subscribe(ctx, schema.TableTranscriptions, "s-1", func(c schema.Change) { got <- c })
	require.NoError(t, err)

	require.NoError(t, remote.InsertTranscript(ctx, schema.TranscriptRow{ID: "t-1", SessionID: "s-1", Text: "hi", CreatedAt: created}))

	select {
	case c := <-got:
		require.Equal(t, schema.EventInsert, c.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, remote.InsertTranscript(ctx, schema.TranscriptRow{ID: "t-2", SessionID: "s-1", Text: "after", CreatedAt: created}))
	select {
	case c := <-got:
		t.Fatalf("unexpected change after close: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoteGeneratePollSendsCredential(t *testing.T) {
	var credential string
	remote := newRemote(t, server.ControlHooks{
		GeneratePoll: func(_ context.Context, _, _, cred string) (polling.Draft, error) {
			credential = cred
			return polling.Draft{Question: "Q?", Options: []string{"a", "b"}}, nil
		},
	})
	ctx := context.Background()
	require.NoError(t, remote.CreateSession(ctx, schema.SessionRow{ID: "s-1", Title: "Bio", HostID: "h", SessionCode: "121212", QuizInterval: 1, Active: true, CreatedAt: created}))

	resp, err := remote.GeneratePoll(ctx, "s-1", "some excerpt", "sk-remote")
	require.NoError(t, err)
	require.Equal(t, "Q?", resp.Question)
	require.Equal(t, "sk-remote", credential)

	_, err = remote.GeneratePoll(ctx, "s-1", "some excerpt", "")
	require.Error(t, err)
}

func TestRemoteReconnectEmitsResync(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		mu.Lock()
		connections++
		first := connections == 1
		mu.Unlock()

		if first {
			change, _ := schema.NewChange(schema.TablePolls, schema.EventInsert, "s-1", map[string]string{"id": "p-1"})
			_ = conn.WriteJSON(change)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	remote, err := backend.NewRemote(srv.URL, backend.WithReconnectBackoff(10*time.Millisecond))
	require.NoError(t, err)

	got := make(chan schema.Change, 8)
	sub, err := remote.Subscribe(context.Background(), schema.TablePolls, "s-1", func(c schema.Change) { got <- c })
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	var types []schema.EventType
	for len(types) < 2 {
		select {
		case c := <-got:
			types = append(types, c.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout, got %v", types)
		}
	}
	require.Equal(t, []schema.EventType{schema.EventInsert, schema.EventResync}, types)
}

func TestNewRemoteRejectsBadURL(t *testing.T) {
	_, err := backend.NewRemote("ftp://example.com")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "http"))
}
