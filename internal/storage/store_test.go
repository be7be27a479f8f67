package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sjawhar/pollcast/internal/schema"
)

func newTestSQLiteStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{dialect: DialectPostgres}
	got := s.rebind("SELECT a FROM t WHERE b = ? AND c = ?")
	if got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Fatalf("unexpected rebind: %q", got)
	}

	lite := &Store{dialect: DialectSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite query should be unchanged, got %q", got)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	exerciseStore(t, newTestSQLiteStore(t))
}

func TestParseTimeAcceptsRFC3339(t *testing.T) {
	got, err := parseTime("2026-03-01T10:00:00Z")
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestRawOptionsWrapsInvalidJSON(t *testing.T) {
	got := rawOptions("A, B")
	var s string
	if err := json.Unmarshal(got, &s); err != nil {
		t.Fatalf("expected JSON string, got %s: %v", got, err)
	}
	if s != "A, B" {
		t.Fatalf("expected original text, got %q", s)
	}
}

// exerciseStore runs the same contract checks against any dialect.
func exerciseStore(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	createdAt := schema.Timestamp(time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC))
	sess := schema.SessionRow{
		ID:                 "s-1",
		Title:              "Biology 101",
		HostID:             "host-1",
		SessionCode:        "123456",
		QuizInterval:       5,
		Active:             true,
		SaveTranscript:     true,
		ParticipantNames:   true,
		AutoPublishResults: false,
		CreatedAt:          createdAt,
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	dup := sess
	dup.ID = "s-2"
	if err := store.CreateSession(ctx, dup); !errors.Is(err, schema.ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken for duplicate active code, got %v", err)
	}

	found, err := store.FindActiveSession(ctx, "123456")
	if err != nil {
		t.Fatalf("FindActiveSession failed: %v", err)
	}
	if found.ID != "s-1" || !found.CreatedAt.Equal(createdAt) || !found.SaveTranscript {
		t.Fatalf("unexpected session %+v", found)
	}

	if _, err := store.FindActiveSession(ctx, "000000"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i, text := range []string{"second", "first"} {
		created, err := store.InsertTranscript(ctx, schema.TranscriptRow{
			ID:        []string{"t-2", "t-1"}[i],
			SessionID: "s-1",
			Text:      text,
			CreatedAt: createdAt.Add(time.Duration(2-i) * time.Second),
		})
		if err != nil || !created {
			t.Fatalf("InsertTranscript(%s) = %v, %v", text, created, err)
		}
	}
	created, err := store.InsertTranscript(ctx, schema.TranscriptRow{ID: "t-1", SessionID: "s-1", Text: "again", CreatedAt: createdAt})
	if err != nil {
		t.Fatalf("replayed InsertTranscript failed: %v", err)
	}
	if created {
		t.Fatal("expected replayed transcript id to be a no-op")
	}

	transcripts, err := store.ListTranscripts(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListTranscripts failed: %v", err)
	}
	if len(transcripts) != 2 || transcripts[0].Text != "first" || transcripts[1].Text != "second" {
		t.Fatalf("unexpected transcripts %+v", transcripts)
	}

	correct := 1
	poll := schema.PollRow{
		ID:            "p-1",
		SessionID:     "s-1",
		Question:      "Which organelle makes ATP?",
		Options:       json.RawMessage(`["Nucleus","Mitochondria"]`),
		CorrectOption: &correct,
		GeneratedFrom: "cells make energy",
		CreatedAt:     createdAt.Add(3 * time.Second),
	}
	if _, err := store.InsertPoll(ctx, poll); err != nil {
		t.Fatalf("InsertPoll failed: %v", err)
	}
	updated, err := store.SetPollPublished(ctx, "p-1", true)
	if err != nil {
		t.Fatalf("SetPollPublished failed: %v", err)
	}
	if !updated.Published || updated.CorrectOption == nil || *updated.CorrectOption != 1 {
		t.Fatalf("unexpected poll %+v", updated)
	}
	if string(updated.Options) != `["Nucleus","Mitochondria"]` {
		t.Fatalf("unexpected options %s", updated.Options)
	}
	if _, err := store.SetPollPublished(ctx, "missing", true); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing poll, got %v", err)
	}

	if _, err := store.InsertParticipant(ctx, schema.ParticipantRow{ID: "u-1", SessionID: "s-1", Username: "Ada", CreatedAt: createdAt}); err != nil {
		t.Fatalf("InsertParticipant failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.InsertAnswer(ctx, schema.AnswerRow{
			ID:            []string{"a-1", "a-2"}[i],
			SessionID:     "s-1",
			PollID:        "p-1",
			ParticipantID: "u-1",
			Answer:        "1",
			CreatedAt:     createdAt.Add(time.Duration(4+i) * time.Second),
		}); err != nil {
			t.Fatalf("InsertAnswer failed: %v", err)
		}
	}
	answers, err := store.ListAnswers(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListAnswers failed: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected both answers to be stored, got %d", len(answers))
	}

	removed, err := store.DeleteParticipant(ctx, "u-1")
	if err != nil {
		t.Fatalf("DeleteParticipant failed: %v", err)
	}
	if removed.Username != "Ada" {
		t.Fatalf("expected deleted row to be returned, got %+v", removed)
	}
	participants, err := store.ListParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 0 {
		t.Fatalf("expected empty roster, got %+v", participants)
	}

	ok, err := store.ClaimPollRequest(ctx, "s-1", "hash")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = store.ClaimPollRequest(ctx, "s-1", "hash")
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}
	if err := store.ReleasePollRequest(ctx, "s-1", "hash"); err != nil {
		t.Fatalf("ReleasePollRequest failed: %v", err)
	}
	ok, err = store.ClaimPollRequest(ctx, "s-1", "hash")
	if err != nil || !ok {
		t.Fatalf("claim after release = %v, %v", ok, err)
	}

	ended, err := store.EndSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if ended.Active {
		t.Fatal("expected session to be inactive")
	}
	if err := store.CreateSession(ctx, dup); err != nil {
		t.Fatalf("code should be reusable once the session ended: %v", err)
	}
}
