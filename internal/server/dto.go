package server

import (
	"encoding/json"

	"tickler/internal/domain"
)

// Request payloads

type CreateReminderRequest struct {
	ID     *string `json:"id,omitempty"`
	Title  string  `json:"title"`
	Notes  *string `json:"notes,omitempty"`
	WhenMs int64   `json:"when_ms"`
}

type UpdateReminderRequest struct {
	Title  *string `json:"title,omitempty"`
	Notes  *string `json:"notes,omitempty"`
	WhenMs *int64  `json:"when_ms,omitempty"`
}

type SnoozeRequest struct {
	SnoozeMinutes *int   `json:"snooze_minutes,omitempty"`
	SnoozeAtMs    *int64 `json:"snooze_at_ms,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ReminderResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	WhenMs        int64  `json:"when_ms"`
	Status        string `json:"status" enum:"pending,completed"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	CompletedAtMs *int64 `json:"completed_at_ms,omitempty"`
}

type WakeupResponse struct {
	Name        string `json:"name"`
	ReminderID  string `json:"reminder_id"`
	Kind        string `json:"kind" enum:"base,snooze"`
	FireAtMs    int64  `json:"fire_at_ms"`
	Armed       bool   `json:"armed"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type SweepResponse struct {
	Settled int `json:"settled"`
	Armed   int `json:"armed"`
}

type StatusResponse struct {
	ReminderCounts map[string]int `json:"reminder_counts"`
	ArmedWakeups   int            `json:"armed_wakeups"`
	NextDueMs      *int64         `json:"next_due_ms,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedReminders struct {
	Items []ReminderResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedWakeups struct {
	Items []WakeupResponse `json:"items"`
}

func reminderResponse(rem domain.Reminder) ReminderResponse {
	return ReminderResponse{
		ID:            rem.ID,
		Title:         rem.Title,
		Notes:         rem.Notes,
		WhenMs:        rem.WhenMs,
		Status:        rem.Status,
		CreatedAtMs:   rem.CreatedAtMs,
		CompletedAtMs: rem.CompletedAtMs,
	}
}

func wakeupResponse(w domain.Wakeup, armed bool) WakeupResponse {
	return WakeupResponse{
		Name:        w.Name,
		ReminderID:  w.ReminderID,
		Kind:        w.Kind,
		FireAtMs:    w.FireAtMs,
		Armed:       armed,
		CreatedAtMs: w.CreatedAtMs,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func mapReminders(items []domain.Reminder) []ReminderResponse {
	res := make([]ReminderResponse, 0, len(items))
	for _, rem := range items {
		res = append(res, reminderResponse(rem))
	}
	return res
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
