package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickler/internal/config"
	"tickler/internal/domain"
)

func testReminder() domain.Reminder {
	completed := int64(1_700_000_060_000)
	return domain.Reminder{
		ID:            "rem-1",
		Title:         "water plants",
		Notes:         "the fern too",
		WhenMs:        1_700_000_000_000,
		Status:        domain.StatusCompleted,
		CreatedAtMs:   1_699_999_000_000,
		CompletedAtMs: &completed,
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	var gotBody alertBody
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Secret: "hush"})
	sink.Raise(context.Background(), testReminder(), ViaFire)

	assert.Equal(t, "rem-1", gotBody.ReminderID)
	assert.Equal(t, "water plants", gotBody.Title)
	assert.Equal(t, ViaFire, gotBody.Via)
	require.NotNil(t, gotBody.CompletedAtMs)
	assert.Equal(t, ViaFire, gotHeaders.Get("X-Tickler-Alert"))
	assert.Equal(t, "rem-1", gotHeaders.Get("X-Tickler-Reminder"))
	assert.Equal(t, "hush", gotHeaders.Get("X-Tickler-Secret"))
}

func TestWebhookSinkKindFilter(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Kinds: []string{ViaSweep}})
	sink.Raise(context.Background(), testReminder(), ViaFire)
	assert.Equal(t, 0, calls, "fire alert should be filtered out")
	sink.Raise(context.Background(), testReminder(), ViaSweep)
	assert.Equal(t, 1, calls)
}

func TestWebhookSinkLogsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL})
	sink.Raise(context.Background(), testReminder(), ViaFire)

	assert.Contains(t, buf.String(), "deliver to")
	assert.Contains(t, buf.String(), "502")
}

func TestFromConfigSkipsDisabledHooks(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Alerts.Webhooks = []config.WebhookConfig{
		{URL: "https://example.com/on", Enabled: nil},
		{URL: "https://example.com/off", Enabled: &disabled},
		{URL: "   "},
	}
	multi, ok := FromConfig(cfg).(Multi)
	require.True(t, ok)
	// Log sink plus the single enabled webhook.
	assert.Len(t, multi, 2)
}

func TestFromConfigNilConfig(t *testing.T) {
	multi, ok := FromConfig(nil).(Multi)
	require.True(t, ok)
	assert.Len(t, multi, 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: log.New(&buf, "", 0)}
	sink.Raise(context.Background(), testReminder(), ViaSweep)
	out := buf.String()
	assert.True(t, strings.Contains(out, "ALERT [sweep]"), out)
	assert.True(t, strings.Contains(out, "rem-1"), out)
}
