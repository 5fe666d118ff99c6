// Package worker is the asynchronous task runtime: pool, dispatcher, task
// lifecycle and the write-behind daemon.
package worker

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Message is one task submitted to the pool. Type is one of the domain task
// types; Payload carries the type-specific arguments.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    int64          `json:"user_id"`
	GroupID   string         `json:"group_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(taskType string, userID int64, groupID string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      taskType,
		UserID:    userID,
		GroupID:   groupID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// SyncPayload carries the arguments of a sync task.
type SyncPayload struct {
	Strategy string `json:"strategy"`
}

// DownloadPayload carries the message ids of a batch download task.
type DownloadPayload struct {
	MessageIDs []int64 `json:"message_ids"`
}

// ParsePayload decodes the loose payload map into a typed payload struct.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
