package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tickler/internal/alert"
	"tickler/internal/config"
	"tickler/internal/domain"
	"tickler/internal/events"
	"tickler/internal/repo"
	"tickler/internal/timer"
)

// SystemActor is recorded on events raised by timers and sweeps rather
// than a user request.
const SystemActor = "system"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Timer  timer.Scheduler
	Alerts alert.Dispatcher
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, sched timer.Scheduler, alerts alert.Dispatcher) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Timer:  sched,
		Alerts: alerts,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowMs() int64 {
	return e.now().UnixMilli()
}

// ReminderCreateOptions are parameters for creating a reminder.
type ReminderCreateOptions struct {
	ID      string
	Title   string
	Notes   string
	WhenMs  int64
	ActorID string
}

func (e Engine) CreateReminder(ctx context.Context, opts ReminderCreateOptions) (domain.Reminder, error) {
	if opts.Title == "" {
		return domain.Reminder{}, errors.New("title is required")
	}
	if opts.WhenMs <= 0 {
		return domain.Reminder{}, errors.New("when_ms must be a positive epoch timestamp")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowMs()
	rem := domain.Reminder{
		ID:          id,
		Title:       opts.Title,
		Notes:       opts.Notes,
		WhenMs:      opts.WhenMs,
		Status:      domain.StatusPending,
		CreatedAtMs: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reminder{}, err
	}
	defer tx.Rollback()

	if opts.ID != "" {
		if _, err := e.Repo.GetReminderTx(ctx, tx, rem.ID); err == nil {
			return domain.Reminder{}, fmt.Errorf("reminder %s already exists", rem.ID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Reminder{}, err
		}
	}
	if err := e.Repo.InsertReminder(ctx, tx, rem); err != nil {
		return domain.Reminder{}, err
	}
	if err := e.Repo.UpsertWakeup(ctx, tx, domain.Wakeup{
		Name:        rem.ID,
		ReminderID:  rem.ID,
		Kind:        domain.WakeupBase,
		FireAtMs:    rem.WhenMs,
		CreatedAtMs: now,
	}); err != nil {
		return domain.Reminder{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ReminderCreated, "reminder", rem.ID, opts.ActorID, events.EventPayload{
		"title":   rem.Title,
		"when_ms": rem.WhenMs,
	}); err != nil {
		return domain.Reminder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reminder{}, err
	}
	e.Timer.Arm(rem.ID, rem.WhenMs)
	return rem, nil
}

// ReminderUpdateOptions encapsulates allowed edits. Nil fields are left
// untouched.
type ReminderUpdateOptions struct {
	ID      string
	Title   *string
	Notes   *string
	WhenMs  *int64
	ActorID string
}

func (e Engine) UpdateReminder(ctx context.Context, opts ReminderUpdateOptions) (domain.Reminder, error) {
	rem, err := e.Repo.GetReminder(ctx, opts.ID)
	if err != nil {
		return rem, err
	}
	if rem.Status != domain.StatusPending {
		return rem, errors.New("only pending reminders can be edited; snooze to reopen")
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return rem, errors.New("title is required")
		}
		rem.Title = *opts.Title
	}
	if opts.Notes != nil {
		rem.Notes = *opts.Notes
	}
	rescheduled := false
	if opts.WhenMs != nil {
		if *opts.WhenMs <= 0 {
			return rem, errors.New("when_ms must be a positive epoch timestamp")
		}
		if *opts.WhenMs != rem.WhenMs {
			rem.WhenMs = *opts.WhenMs
			rescheduled = true
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rem, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateReminder(ctx, tx, rem); err != nil {
		return rem, err
	}
	if rescheduled {
		if err := e.Repo.UpsertWakeup(ctx, tx, domain.Wakeup{
			Name:        rem.ID,
			ReminderID:  rem.ID,
			Kind:        domain.WakeupBase,
			FireAtMs:    rem.WhenMs,
			CreatedAtMs: e.nowMs(),
		}); err != nil {
			return rem, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ReminderUpdated, "reminder", rem.ID, opts.ActorID, events.EventPayload{
		"title":       rem.Title,
		"when_ms":     rem.WhenMs,
		"rescheduled": rescheduled,
	}); err != nil {
		return rem, err
	}
	if err := tx.Commit(); err != nil {
		return rem, err
	}
	if rescheduled {
		e.Timer.Arm(rem.ID, rem.WhenMs)
	}
	return rem, nil
}

// DeleteReminder removes the reminder and its whole wakeup family.
func (e Engine) DeleteReminder(ctx context.Context, id, actorID string) error {
	wakeups, err := e.Repo.ListWakeupsForReminder(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteWakeupsForReminder(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteReminder(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ReminderDeleted, "reminder", id, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, w := range wakeups {
		e.Timer.Disarm(w.Name)
	}
	return nil
}
