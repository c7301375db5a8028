package engine_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"tickler/internal/config"
	"tickler/internal/db"
	"tickler/internal/domain"
	"tickler/internal/engine"
	"tickler/internal/migrate"
	"tickler/internal/repo"
)

// fakeScheduler records arm/disarm calls without real timers.
type fakeScheduler struct {
	mu    sync.Mutex
	armed map[string]int64
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: map[string]int64{}}
}

func (s *fakeScheduler) Arm(name string, atMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[name] = atMs
}

func (s *fakeScheduler) Disarm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, name)
}

func (s *fakeScheduler) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.armed))
	for name := range s.armed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *fakeScheduler) deadline(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.armed[name]
	return at, ok
}

// recordingAlerts collects every raised alert.
type recordingAlerts struct {
	mu     sync.Mutex
	raised []raisedAlert
}

type raisedAlert struct {
	ReminderID string
	Via        string
}

func (r *recordingAlerts) Raise(_ context.Context, rem domain.Reminder, via string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, raisedAlert{ReminderID: rem.ID, Via: via})
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raised)
}

type testEnv struct {
	Engine engine.Engine
	Sched  *fakeScheduler
	Alerts *recordingAlerts
	Ctx    context.Context
	NowMs  int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sched := newFakeScheduler()
	alerts := &recordingAlerts{}
	eng := engine.New(conn, config.Default(), sched, alerts)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return fixed }
	return &testEnv{
		Engine: eng,
		Sched:  sched,
		Alerts: alerts,
		Ctx:    context.Background(),
		NowMs:  fixed.UnixMilli(),
	}
}

func (env *testEnv) mustCreate(t *testing.T, title string, whenMs int64) domain.Reminder {
	t.Helper()
	rem, err := env.Engine.CreateReminder(env.Ctx, engine.ReminderCreateOptions{
		Title:   title,
		WhenMs:  whenMs,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return rem
}

func TestCreateArmsBaseWakeup(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "water plants", env.NowMs+60_000)

	if rem.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", rem.Status)
	}
	if rem.CompletedAtMs != nil {
		t.Fatalf("completed_at should be nil on create")
	}
	at, ok := env.Sched.deadline(rem.ID)
	if !ok || at != rem.WhenMs {
		t.Fatalf("base wakeup not armed at when_ms: armed=%v at=%d", ok, at)
	}
	wakeups, err := env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if err != nil || len(wakeups) != 1 || wakeups[0].Kind != domain.WakeupBase {
		t.Fatalf("want one base wakeup, got %v (%v)", wakeups, err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateReminder(env.Ctx, engine.ReminderCreateOptions{WhenMs: env.NowMs}); err == nil {
		t.Fatalf("expected error for missing title")
	}
	if _, err := env.Engine.CreateReminder(env.Ctx, engine.ReminderCreateOptions{Title: "x"}); err == nil {
		t.Fatalf("expected error for missing when_ms")
	}
}

func TestCreateDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.ReminderCreateOptions{
		ID:      "rem-dup",
		Title:   "first",
		WhenMs:  env.NowMs + 1000,
		ActorID: "tester",
	}
	if _, err := env.Engine.CreateReminder(env.Ctx, opts); err != nil {
		t.Fatalf("create: %v", err)
	}
	opts.Title = "second"
	_, err := env.Engine.CreateReminder(env.Ctx, opts)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want already-exists", err)
	}
	// The original survives untouched.
	got, _ := env.Engine.Repo.GetReminder(env.Ctx, "rem-dup")
	if got.Title != "first" {
		t.Fatalf("duplicate create clobbered the original: %+v", got)
	}
}

func TestFireSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "stand up", env.NowMs+1000)

	env.Engine.OnFire(rem.ID)

	settled, err := env.Engine.Repo.GetReminder(env.Ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if settled.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", settled.Status)
	}
	if settled.CompletedAtMs == nil || *settled.CompletedAtMs != env.NowMs {
		t.Fatalf("completed_at = %v, want %d", settled.CompletedAtMs, env.NowMs)
	}
	if env.Alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", env.Alerts.count())
	}
	wakeups, _ := env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if len(wakeups) != 0 {
		t.Fatalf("wakeup rows should be consumed, got %v", wakeups)
	}

	// A duplicate delivery of the same name is harmless.
	env.Engine.OnFire(rem.ID)
	if env.Alerts.count() != 1 {
		t.Fatalf("duplicate fire raised another alert")
	}
}

func TestStaleFireIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.OnFire("no-such-wakeup")
	if env.Alerts.count() != 0 {
		t.Fatalf("stale fire must not alert")
	}
}

func TestSnoozeSpawnsDerivedWakeup(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "check oven", env.NowMs+1000)
	env.Engine.OnFire(rem.ID)

	snoozed, err := env.Engine.Snooze(env.Ctx, rem.ID, 30, "tester")
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if snoozed.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after snooze", snoozed.Status)
	}
	if snoozed.CompletedAtMs != nil {
		t.Fatalf("completed_at should clear on snooze")
	}
	want := env.NowMs + 30*60_000
	if snoozed.WhenMs != want {
		t.Fatalf("when_ms = %d, want %d", snoozed.WhenMs, want)
	}
	wakeups, _ := env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if len(wakeups) != 1 || wakeups[0].Kind != domain.WakeupSnooze {
		t.Fatalf("want one snooze wakeup, got %v", wakeups)
	}
	if at, ok := env.Sched.deadline(wakeups[0].Name); !ok || at != want {
		t.Fatalf("snooze wakeup not armed at %d", want)
	}

	// The snooze fire settles the reminder again.
	env.Engine.OnFire(wakeups[0].Name)
	again, _ := env.Engine.Repo.GetReminder(env.Ctx, rem.ID)
	if again.Status != domain.StatusCompleted {
		t.Fatalf("snooze fire did not settle: %s", again.Status)
	}
	if env.Alerts.count() != 2 {
		t.Fatalf("alerts = %d, want 2", env.Alerts.count())
	}
}

func TestSnoozeBounds(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "bounds", env.NowMs+1000)
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 0, "tester"); err == nil {
		t.Fatalf("expected error below floor")
	}
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 100_000, "tester"); err == nil {
		t.Fatalf("expected error above ceiling")
	}
	if _, err := env.Engine.Snooze(env.Ctx, "missing", 10, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDismissCancelsWholeFamily(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "family", env.NowMs+1000)
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 10, "tester"); err != nil {
		t.Fatalf("first snooze: %v", err)
	}
	// A later snooze coexists with the first; the clock moves so the
	// derived wakeup gets its own name.
	env.Engine.Now = func() time.Time {
		return time.UnixMilli(env.NowMs + 60_000).UTC()
	}
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 20, "tester"); err != nil {
		t.Fatalf("second snooze: %v", err)
	}
	wakeups, _ := env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if len(wakeups) != 3 {
		t.Fatalf("want base plus two snoozes before dismiss, got %v", wakeups)
	}

	if err := env.Engine.Dismiss(env.Ctx, rem.ID, "tester"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if names := env.Sched.Armed(); len(names) != 0 {
		t.Fatalf("timers still armed after dismiss: %v", names)
	}
	wakeups, _ = env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if len(wakeups) != 0 {
		t.Fatalf("wakeup rows remain after dismiss: %v", wakeups)
	}
	// Dismiss leaves the reminder status alone.
	got, _ := env.Engine.Repo.GetReminder(env.Ctx, rem.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("dismiss changed status to %s", got.Status)
	}
}

func TestClearSnoozesKeepsBase(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "keep base", env.NowMs+3_600_000)
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 10, "tester"); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	if err := env.Engine.ClearSnoozes(env.Ctx, rem.ID, "tester"); err != nil {
		t.Fatalf("clear snoozes: %v", err)
	}
	wakeups, _ := env.Engine.Repo.ListWakeupsForReminder(env.Ctx, rem.ID)
	if len(wakeups) != 1 || wakeups[0].Kind != domain.WakeupBase {
		t.Fatalf("want only the base wakeup, got %v", wakeups)
	}
	if _, ok := env.Sched.deadline(rem.ID); !ok {
		t.Fatalf("base timer disarmed by clear-snoozes")
	}
}

func TestReconcileSettlesOverdue(t *testing.T) {
	env := newTestEnv(t)
	overdue := env.mustCreate(t, "overdue", env.NowMs-3_600_000)
	future := env.mustCreate(t, "future", env.NowMs+3_600_000)

	settled, armed, err := env.Engine.Reconcile(env.Ctx, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if settled != 1 || armed != 1 {
		t.Fatalf("settled=%d armed=%d, want 1/1", settled, armed)
	}
	got, _ := env.Engine.Repo.GetReminder(env.Ctx, overdue.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("overdue not settled")
	}
	got, _ = env.Engine.Repo.GetReminder(env.Ctx, future.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("future reminder settled early")
	}
	if env.Alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", env.Alerts.count())
	}

	// Running again is a no-op for the settled one.
	settled, _, err = env.Engine.Reconcile(env.Ctx, "")
	if err != nil || settled != 0 {
		t.Fatalf("second reconcile settled=%d err=%v, want 0/nil", settled, err)
	}
	if env.Alerts.count() != 1 {
		t.Fatalf("second reconcile re-alerted")
	}
}

func TestFireSweepsCoalescedOverdue(t *testing.T) {
	env := newTestEnv(t)
	first := env.mustCreate(t, "first", env.NowMs-2000)
	second := env.mustCreate(t, "second", env.NowMs-1000)

	// Only one timer delivery arrives; the post-fire sweep settles the rest.
	env.Engine.OnFire(first.ID)

	for _, id := range []string{first.ID, second.ID} {
		got, err := env.Engine.Repo.GetReminder(env.Ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != domain.StatusCompleted {
			t.Fatalf("%s not settled after coalesced fire", id)
		}
	}
	if env.Alerts.count() != 2 {
		t.Fatalf("alerts = %d, want 2", env.Alerts.count())
	}
}

func TestUpdateOnlyPending(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "editable", env.NowMs+1000)
	env.Engine.OnFire(rem.ID)

	title := "new title"
	if _, err := env.Engine.UpdateReminder(env.Ctx, engine.ReminderUpdateOptions{ID: rem.ID, Title: &title, ActorID: "tester"}); err == nil {
		t.Fatalf("expected error editing a completed reminder")
	}
}

func TestUpdateReschedulesBaseWakeup(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "move me", env.NowMs+1000)

	when := env.NowMs + 120_000
	updated, err := env.Engine.UpdateReminder(env.Ctx, engine.ReminderUpdateOptions{ID: rem.ID, WhenMs: &when, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.WhenMs != when {
		t.Fatalf("when_ms = %d, want %d", updated.WhenMs, when)
	}
	if at, ok := env.Sched.deadline(rem.ID); !ok || at != when {
		t.Fatalf("base wakeup not re-armed: ok=%v at=%d", ok, at)
	}
}

func TestDeleteRemovesFamily(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "gone", env.NowMs+1000)
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 5, "tester"); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if err := env.Engine.DeleteReminder(env.Ctx, rem.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetReminder(env.Ctx, rem.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if names := env.Sched.Armed(); len(names) != 0 {
		t.Fatalf("timers remain after delete: %v", names)
	}
}

func TestEventTrail(t *testing.T) {
	env := newTestEnv(t)
	rem := env.mustCreate(t, "audited", env.NowMs+1000)
	if _, err := env.Engine.Snooze(env.Ctx, rem.ID, 5, "tester"); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if err := env.Engine.Dismiss(env.Ctx, rem.ID, "tester"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "reminder", rem.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	// Newest first.
	want := []string{"reminder.dismissed", "reminder.snoozed", "reminder.created"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}
