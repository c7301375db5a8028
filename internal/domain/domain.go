package domain

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

const (
	WakeupBase   = "base"
	WakeupSnooze = "snooze"
)

type Reminder struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	WhenMs        int64  `json:"when_ms"`
	Status        string `json:"status" enum:"pending,completed"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	CompletedAtMs *int64 `json:"completed_at_ms,omitempty"`
}

// Wakeup records which armed timer belongs to which reminder. The base
// wakeup is named by the reminder id; snooze wakeups get derived names.
type Wakeup struct {
	Name        string `json:"name"`
	ReminderID  string `json:"reminder_id"`
	Kind        string `json:"kind" enum:"base,snooze"`
	FireAtMs    int64  `json:"fire_at_ms"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
