package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sjawhar/pollcast/internal/schema"
)

func SessionFromRow(row schema.SessionRow) Session {
	status := StatusActive
	if !row.Active {
		status = StatusCompleted
	}
	return Session{
		ID:         row.ID,
		Title:      row.Title,
		HostID:     row.HostID,
		AccessCode: row.SessionCode,
		Status:     status,
		Settings: Settings{
			PollFrequency:      row.QuizInterval,
			SaveTranscript:     row.SaveTranscript,
			ParticipantNames:   row.ParticipantNames,
			AutoPublishResults: row.AutoPublishResults,
		},
		CreatedAt: row.CreatedAt,
	}
}

func sessionToRow(s Session) schema.SessionRow {
	return schema.SessionRow{
		ID:                 s.ID,
		Title:              s.Title,
		HostID:             s.HostID,
		SessionCode:        s.AccessCode,
		QuizInterval:       s.Settings.PollFrequency,
		Active:             s.Status != StatusCompleted,
		SaveTranscript:     s.Settings.SaveTranscript,
		ParticipantNames:   s.Settings.ParticipantNames,
		AutoPublishResults: s.Settings.AutoPublishResults,
		CreatedAt:          s.CreatedAt,
	}
}

func TranscriptFromRow(row schema.TranscriptRow) TranscriptEntry {
	return TranscriptEntry{ID: row.ID, Text: row.Text, Timestamp: row.CreatedAt, Confirmed: true}
}

func transcriptToRow(sessionID string, e TranscriptEntry) schema.TranscriptRow {
	return schema.TranscriptRow{ID: e.ID, SessionID: sessionID, Text: e.Text, CreatedAt: e.Timestamp}
}

// PollFromRow decodes a stored poll. The returned DecodedOptions reports
// whether the options fell back to placeholders.
func PollFromRow(row schema.PollRow) (PollQuestion, DecodedOptions) {
	decoded := DecodeOptions(json.RawMessage(row.Options))
	var correct *int
	if row.CorrectOption != nil && *row.CorrectOption >= 0 && *row.CorrectOption < len(decoded.Options) {
		idx := *row.CorrectOption
		correct = &idx
	}
	return PollQuestion{
		ID:            row.ID,
		Question:      row.Question,
		Options:       decoded.Options,
		CorrectOption: correct,
		GeneratedFrom: row.GeneratedFrom,
		CreatedAt:     row.CreatedAt,
		Published:     row.Published,
		Confirmed:     true,
	}, decoded
}

func pollToRow(sessionID string, p PollQuestion) (schema.PollRow, error) {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return schema.PollRow{}, fmt.Errorf("encode poll options: %w", err)
	}
	return schema.PollRow{
		ID:            p.ID,
		SessionID:     sessionID,
		Question:      p.Question,
		Options:       options,
		CorrectOption: p.CorrectOption,
		GeneratedFrom: p.GeneratedFrom,
		Published:     p.Published,
		CreatedAt:     p.CreatedAt,
	}, nil
}

func ParticipantFromRow(row schema.ParticipantRow) Participant {
	return Participant{ID: row.ID, Name: row.Username, JoinedAt: row.CreatedAt, Confirmed: true}
}

// ResponseFromRow decodes a stored answer. options may be nil when the poll is
// not known yet; only a numeric answer decodes then.
func ResponseFromRow(row schema.AnswerRow, options []string) (PollResponse, error) {
	idx, err := ParseAnswer(row.Answer, options)
	if err != nil {
		return PollResponse{}, fmt.Errorf("answer %s: %w", row.ID, err)
	}
	return PollResponse{
		ID:             row.ID,
		QuestionID:     row.PollID,
		ParticipantID:  row.ParticipantID,
		SelectedOption: idx,
		Timestamp:      row.CreatedAt,
		Confirmed:      true,
	}, nil
}

func responseToRow(sessionID string, r PollResponse) schema.AnswerRow {
	return schema.AnswerRow{
		ID:            r.ID,
		SessionID:     sessionID,
		PollID:        r.QuestionID,
		ParticipantID: r.ParticipantID,
		Answer:        strconv.Itoa(r.SelectedOption),
		CreatedAt:     r.Timestamp,
	}
}

func responseKey(r PollResponse) string {
	return r.QuestionID + "|" + r.ParticipantID + "|" + strconv.FormatInt(r.Timestamp.UnixMicro(), 10)
}
