// Package alert fans a settled reminder out to the configured sinks.
// Delivery is best effort; failures are logged, never returned to the
// engine.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tickler/internal/config"
	"tickler/internal/domain"
)

// Via values describe which path raised the alert.
const (
	ViaFire  = "fire"
	ViaSweep = "sweep"
)

const defaultWebhookTimeout = 5 * time.Second

type Dispatcher interface {
	Raise(ctx context.Context, rem domain.Reminder, via string)
}

// Multi raises on every sink in order.
type Multi []Dispatcher

func (m Multi) Raise(ctx context.Context, rem domain.Reminder, via string) {
	for _, d := range m {
		d.Raise(ctx, rem, via)
	}
}

// FromConfig builds the dispatcher stack: the log sink always, plus one
// webhook sink per configured hook.
func FromConfig(cfg *config.Config) Dispatcher {
	sinks := Multi{LogSink{}}
	if cfg == nil {
		return sinks
	}
	for _, hook := range cfg.Alerts.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook))
	}
	return sinks
}

// LogSink writes the alert to the process log.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Raise(_ context.Context, rem domain.Reminder, via string) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("ALERT [%s] %s (id=%s, due=%s)", via, rem.Title, rem.ID,
		time.UnixMilli(rem.WhenMs).UTC().Format(time.RFC3339))
}

// WebhookSink posts the alert to one HTTP target.
type WebhookSink struct {
	hook   config.WebhookConfig
	filter kindFilter
	client *http.Client
}

func NewWebhookSink(hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		hook:   hook,
		filter: newKindFilter(hook.Kinds),
		client: &http.Client{Timeout: timeout},
	}
}

type alertBody struct {
	ReminderID    string `json:"reminder_id"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	WhenMs        int64  `json:"when_ms"`
	CompletedAtMs *int64 `json:"completed_at_ms,omitempty"`
	Via           string `json:"via"`
}

func (s *WebhookSink) Raise(ctx context.Context, rem domain.Reminder, via string) {
	if !s.filter.match(via) {
		return
	}
	if err := s.post(ctx, rem, via); err != nil {
		log.Printf("alert: deliver to %s failed: %v", s.hook.URL, err)
	}
}

func (s *WebhookSink) post(ctx context.Context, rem domain.Reminder, via string) error {
	data, err := json.Marshal(alertBody{
		ReminderID:    rem.ID,
		Title:         rem.Title,
		Notes:         rem.Notes,
		WhenMs:        rem.WhenMs,
		CompletedAtMs: rem.CompletedAtMs,
		Via:           via,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tickler-Alert", via)
	req.Header.Set("X-Tickler-Reminder", rem.ID)
	if strings.TrimSpace(s.hook.Secret) != "" {
		req.Header.Set("X-Tickler-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type kindFilter struct {
	all bool
	set map[string]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	if len(kinds) == 0 {
		return kindFilter{all: true}
	}
	set := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		key := strings.TrimSpace(kind)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
