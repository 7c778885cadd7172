package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is a single append-only audit record.
type Entry struct {
	ID         int64           `json:"id"`
	EventID    uuid.UUID       `json:"event_id"`
	Action     string          `json:"action"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// spooledEntry wraps an Entry for JSONL spooling.
type spooledEntry struct {
	EventID   string    `json:"event_id"`
	Payload   Entry     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TargetAlarm = "alarm"
	TargetUser  = "user"
)
