package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

const ChangeVersion = 1

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventResync carries no row. It tells the subscriber that events may have
	// been missed (reconnect, lagging consumer) and the table must be fetched
	// again.
	EventResync EventType = "RESYNC"
)

// Change is a row-level change notification delivered on a realtime channel.
type Change struct {
	Table     Table           `json:"table"`
	Type      EventType       `json:"type"`
	Version   int             `json:"version"`
	SessionID string          `json:"session_id"`
	Timestamp string          `json:"timestamp"`
	Row       json.RawMessage `json:"row,omitempty"`
}

// NewChange marshals row into a change event for the given table.
func NewChange(table Table, eventType EventType, sessionID string, row any) (Change, error) {
	change := Change{
		Table:     table,
		Type:      eventType,
		Version:   ChangeVersion,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if row != nil {
		payload, err := json.Marshal(row)
		if err != nil {
			return Change{}, fmt.Errorf("marshal %s row: %w", table, err)
		}
		change.Row = payload
	}
	return change, nil
}

// Resync builds the row-less resync marker for a channel.
func Resync(table Table, sessionID string) Change {
	return Change{
		Table:     table,
		Type:      EventResync,
		Version:   ChangeVersion,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
