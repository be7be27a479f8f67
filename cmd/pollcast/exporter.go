package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/sjawhar/pollcast/internal/export"
	"github.com/sjawhar/pollcast/internal/session"
)

type exporter struct {
	writer *export.Writer
	upload func(ctx context.Context, localPath, name string) (string, error)
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func (e *exporter) transcript(store *session.Store) (string, error) {
	sess, _ := store.Session()
	name := export.TranscriptName(sess.Title, e.now())
	return e.writer.Write(name, export.Transcript(store.Transcript(), e.loc))
}

func (e *exporter) results(store *session.Store) (string, error) {
	return e.writer.Write(export.ResultsName(e.now()), export.Results(store.PublishedResults()))
}

// finish saves the transcript of an ended session when the session asks for
// it, and uploads it to Drive when an uploader is configured.
func (e *exporter) finish(ctx context.Context, store *session.Store) (string, error) {
	sess, ok := store.Session()
	if !ok || !sess.Settings.SaveTranscript {
		return "", nil
	}
	path, err := e.transcript(store)
	if err != nil {
		return "", err
	}
	e.logger.Info("transcript saved", "session_id", sess.ID, "path", path)

	if e.upload == nil {
		return path, nil
	}
	fileID, err := e.upload(ctx, path, export.TranscriptName(sess.Title, sess.CreatedAt))
	if err != nil {
		e.logger.Error("upload transcript", "session_id", sess.ID, "error", err)
		return path, err
	}
	e.logger.Info("transcript uploaded", "session_id", sess.ID, "file_id", fileID)
	return path, nil
}
