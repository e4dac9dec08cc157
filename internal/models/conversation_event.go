package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Event directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// ConversationEvent is a row of the bot runtime's append-only event log.
// The table is owned externally; this service only reads it.
type ConversationEvent struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	BotID           string         `gorm:"column:botId;size:255;not null;index:idx_events_thread,priority:1"`
	ThreadID        string         `gorm:"column:threadId;size:255;index:idx_events_thread,priority:2"`
	SessionID       string         `gorm:"column:sessionId;size:255;index:idx_events_thread,priority:3"`
	Direction       string         `gorm:"column:direction;size:16;not null"`
	IncomingEventID string         `gorm:"column:incomingEventId;size:255;index"`
	CreatedOn       Timestamp      `gorm:"column:createdOn;not null;index:idx_events_thread,priority:4"`
	Event           datatypes.JSON `gorm:"column:event"`
}

// TableName pins the external table name.
func (ConversationEvent) TableName() string { return "events" }

// EventPayload is the subset of a stored event payload the reviewer needs.
type EventPayload struct {
	Preview string `json:"preview"`
	Payload struct {
		Message interface{} `json:"message"`
	} `json:"payload"`
	NLU *struct {
		IncludedContexts []string `json:"includedContexts"`
	} `json:"nlu"`
}

// Payload parses the stored event column.
func (e *ConversationEvent) Payload() (*EventPayload, error) {
	raw, err := DecodeJSON(e.Event)
	if err != nil {
		return nil, fmt.Errorf("models: event %d payload: %w", e.ID, err)
	}
	var p EventPayload
	if raw == nil {
		return &p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("models: event %d payload: %w", e.ID, err)
	}
	return &p, nil
}

// IncludedContexts returns nlu.includedContexts, never nil.
func (p *EventPayload) IncludedContexts() []string {
	if p == nil || p.NLU == nil || p.NLU.IncludedContexts == nil {
		return []string{}
	}
	return p.NLU.IncludedContexts
}

// DecodeJSON normalizes a stored JSON column to raw structured JSON.
// Depending on the dialect and the writer, a column may hold the object
// itself or a JSON string whose content is the object; the latter is
// unwrapped exactly once. Empty input and JSON null yield nil.
func DecodeJSON(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, err
		}
		innerBytes := bytes.TrimSpace([]byte(inner))
		if len(innerBytes) == 0 {
			return nil, nil
		}
		if !json.Valid(innerBytes) {
			return nil, fmt.Errorf("invalid JSON in string-encoded column")
		}
		return json.RawMessage(innerBytes), nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(trimmed), nil
}
