package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tickler/internal/alert"
	"tickler/internal/config"
	"tickler/internal/domain"
	"tickler/internal/events"
	"tickler/internal/repo"
)

// snoozeName derives a unique timer name for a snooze wakeup. The base id
// is embedded for log readability only; resolution goes through the
// wakeups table.
func snoozeName(id string, nowMs int64) string {
	return fmt.Sprintf("%s_snooze_%d", id, nowMs)
}

// Schedule upserts the base wakeup and arms its timer. Idempotent.
func (e Engine) Schedule(ctx context.Context, id string, whenMs int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertWakeup(ctx, tx, domain.Wakeup{
		Name:        id,
		ReminderID:  id,
		Kind:        domain.WakeupBase,
		FireAtMs:    whenMs,
		CreatedAtMs: e.nowMs(),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Timer.Arm(id, whenMs)
	return nil
}

// Cancel disarms and forgets every wakeup, base and snooze, belonging to
// the reminder. Unknown ids are a silent no-op.
func (e Engine) Cancel(ctx context.Context, id string) error {
	wakeups, err := e.Repo.ListWakeupsForReminder(ctx, id)
	if err != nil {
		return err
	}
	for _, w := range wakeups {
		e.Timer.Disarm(w.Name)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWakeupsForReminder(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// OnFire handles one timer delivery. Stale names resolve to nothing in
// the wakeups table and are dropped without side effects.
func (e Engine) OnFire(name string) {
	ctx := context.Background()
	w, err := e.Repo.GetWakeup(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		log.Printf("fire: stale wakeup %s ignored", name)
		return
	}
	if err != nil {
		log.Printf("fire: resolve %s: %v", name, err)
		return
	}
	settled, err := e.settle(ctx, w.ReminderID, name, SystemActor)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.dropWakeup(ctx, name)
			return
		}
		log.Printf("fire: settle %s: %v", w.ReminderID, err)
		return
	}
	if settled == nil {
		// Reminder no longer pending; the wakeup row is spent.
		e.dropWakeup(ctx, name)
		return
	}
	e.Alerts.Raise(ctx, *settled, alert.ViaFire)
	if _, _, err := e.Reconcile(ctx, w.ReminderID); err != nil {
		log.Printf("fire: overdue sweep: %v", err)
	}
}

// settle transitions a pending reminder to completed and consumes its
// wakeup rows. Returns nil without error when the reminder was already
// completed, which makes duplicate fires and sweep overlap harmless.
func (e Engine) settle(ctx context.Context, id, firedName, actorID string) (*domain.Reminder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rem, err := e.Repo.GetReminderTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if rem.Status != domain.StatusPending {
		return nil, nil
	}
	completedAt := e.nowMs()
	rem.Status = domain.StatusCompleted
	rem.CompletedAtMs = &completedAt
	if err := e.Repo.UpdateReminder(ctx, tx, rem); err != nil {
		return nil, err
	}
	if firedName != "" {
		if err := e.Repo.DeleteWakeup(ctx, tx, firedName); err != nil {
			return nil, err
		}
	}
	if err := e.Repo.DeleteWakeup(ctx, tx, rem.ID); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.ReminderSettled, "reminder", rem.ID, actorID, events.EventPayload{
		"title":           rem.Title,
		"when_ms":         rem.WhenMs,
		"completed_at_ms": completedAt,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if firedName != rem.ID {
		e.Timer.Disarm(rem.ID)
	}
	return &rem, nil
}

func (e Engine) dropWakeup(ctx context.Context, name string) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("fire: drop wakeup %s: %v", name, err)
		return
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWakeup(ctx, tx, name); err != nil {
		log.Printf("fire: drop wakeup %s: %v", name, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("fire: drop wakeup %s: %v", name, err)
	}
}

func (e Engine) snoozeBounds() (int, int) {
	min, max := config.SnoozeFloorMinutes, config.SnoozeCeilingMinutes
	if e.Config != nil && e.Config.Snooze.MinMinutes > 0 {
		min = e.Config.Snooze.MinMinutes
	}
	if e.Config != nil && e.Config.Snooze.MaxMinutes > 0 {
		max = e.Config.Snooze.MaxMinutes
	}
	return min, max
}

// Snooze re-arms the reminder a number of minutes from now with a fresh
// derived wakeup. Outstanding snoozes are left alone; they coexist until
// they fire or get swept by dismiss.
func (e Engine) Snooze(ctx context.Context, id string, minutes int, actorID string) (domain.Reminder, error) {
	min, max := e.snoozeBounds()
	if minutes < min || minutes > max {
		return domain.Reminder{}, fmt.Errorf("snooze minutes must be between %d and %d", min, max)
	}
	return e.snoozeAt(ctx, id, e.nowMs()+int64(minutes)*60_000, minutes, actorID)
}

// SnoozeUntil re-arms at an absolute epoch-ms time, which must land
// within the configured snooze window.
func (e Engine) SnoozeUntil(ctx context.Context, id string, atMs int64, actorID string) (domain.Reminder, error) {
	min, max := e.snoozeBounds()
	now := e.nowMs()
	if atMs < now+int64(min)*60_000 || atMs > now+int64(max)*60_000 {
		return domain.Reminder{}, fmt.Errorf("snooze time must be between %d and %d minutes from now", min, max)
	}
	return e.snoozeAt(ctx, id, atMs, int((atMs-now)/60_000), actorID)
}

func (e Engine) snoozeAt(ctx context.Context, id string, atMs int64, minutes int, actorID string) (domain.Reminder, error) {
	rem, err := e.Repo.GetReminder(ctx, id)
	if err != nil {
		return rem, err
	}
	now := e.nowMs()
	name := snoozeName(id, now)
	rem.Status = domain.StatusPending
	rem.WhenMs = atMs
	rem.CompletedAtMs = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rem, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateReminder(ctx, tx, rem); err != nil {
		return rem, err
	}
	if err := e.Repo.UpsertWakeup(ctx, tx, domain.Wakeup{
		Name:        name,
		ReminderID:  id,
		Kind:        domain.WakeupSnooze,
		FireAtMs:    atMs,
		CreatedAtMs: now,
	}); err != nil {
		return rem, err
	}
	if err := e.Events.Append(ctx, tx, events.ReminderSnoozed, "reminder", id, actorID, events.EventPayload{
		"minutes":    minutes,
		"fire_at_ms": atMs,
		"wakeup":     name,
	}); err != nil {
		return rem, err
	}
	if err := tx.Commit(); err != nil {
		return rem, err
	}
	e.Timer.Arm(name, atMs)
	return rem, nil
}

// Dismiss cancels the whole wakeup family without touching the reminder
// status.
func (e Engine) Dismiss(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetReminder(ctx, id); err != nil {
		return err
	}
	if err := e.Cancel(ctx, id); err != nil {
		return err
	}
	return e.appendEvent(ctx, events.ReminderDismissed, "reminder", id, actorID, nil)
}

// ClearSnoozes cancels only the derived snooze wakeups, leaving a future
// base wakeup armed.
func (e Engine) ClearSnoozes(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetReminder(ctx, id); err != nil {
		return err
	}
	wakeups, err := e.Repo.ListWakeupsForReminder(ctx, id)
	if err != nil {
		return err
	}
	cleared := 0
	for _, w := range wakeups {
		if w.Kind != domain.WakeupSnooze {
			continue
		}
		e.Timer.Disarm(w.Name)
		cleared++
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWakeupsForReminderKind(ctx, tx, id, domain.WakeupSnooze); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.SnoozesCleared, "reminder", id, actorID, events.EventPayload{"cleared": cleared}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, id, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, id, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
