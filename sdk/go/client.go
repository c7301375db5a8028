package ticklersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tickler HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Reminder represents the API reminder model.
type Reminder struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	WhenMs        int64  `json:"when_ms"`
	Status        string `json:"status"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	CompletedAtMs *int64 `json:"completed_at_ms,omitempty"`
}

// Wakeup represents an armed or recorded timer.
type Wakeup struct {
	Name        string `json:"name"`
	ReminderID  string `json:"reminder_id"`
	Kind        string `json:"kind"`
	FireAtMs    int64  `json:"fire_at_ms"`
	Armed       bool   `json:"armed"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// SweepResult reports what a reconciliation pass did.
type SweepResult struct {
	Settled int `json:"settled"`
	Armed   int `json:"armed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateReminder creates a reminder due at the given epoch-ms time.
func (c *Client) CreateReminder(ctx context.Context, title string, whenMs int64) (Reminder, error) {
	body := map[string]any{
		"title":   title,
		"when_ms": whenMs,
	}
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders", body, &resp)
	return resp, err
}

// GetReminder fetches a reminder by id.
func (c *Client) GetReminder(ctx context.Context, id string) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodGet, "v0/reminders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Reminders lists reminders, optionally filtered by status.
func (c *Client) Reminders(ctx context.Context, status string) ([]Reminder, error) {
	endpoint := "v0/reminders"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Reminder `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Snooze re-arms a reminder the given minutes from now.
func (c *Client) Snooze(ctx context.Context, id string, minutes int) (Reminder, error) {
	body := map[string]any{"snooze_minutes": minutes}
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/snooze", body, &resp)
	return resp, err
}

// SnoozeUntil re-arms a reminder at an absolute epoch-ms time.
func (c *Client) SnoozeUntil(ctx context.Context, id string, atMs int64) (Reminder, error) {
	body := map[string]any{"snooze_at_ms": atMs}
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/snooze", body, &resp)
	return resp, err
}

// Dismiss cancels every wakeup for a reminder.
func (c *Client) Dismiss(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/dismiss", nil, nil)
}

// ClearSnoozes cancels only the snooze wakeups for a reminder.
func (c *Client) ClearSnoozes(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/clear-snoozes", nil, nil)
}

// DeleteReminder removes a reminder and its wakeups.
func (c *Client) DeleteReminder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/reminders/"+url.PathEscape(id), nil, nil)
}

// Sweep runs a reconciliation pass.
func (c *Client) Sweep(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "v0/sweep", nil, &resp)
	return resp, err
}

// Wakeups lists all recorded wakeups.
func (c *Client) Wakeups(ctx context.Context) ([]Wakeup, error) {
	var resp struct {
		Items []Wakeup `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/wakeups", nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
