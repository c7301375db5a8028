package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tickler/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reminderCols = `id,title,COALESCE(notes,'') AS notes,when_ms,status,created_at_ms,completed_at_ms`

func scanReminder(row *sql.Row) (domain.Reminder, error) {
	var rem domain.Reminder
	var completedAt sql.NullInt64
	err := row.Scan(&rem.ID, &rem.Title, &rem.Notes, &rem.WhenMs, &rem.Status, &rem.CreatedAtMs, &completedAt)
	if err == sql.ErrNoRows {
		return rem, ErrNotFound
	}
	if completedAt.Valid {
		rem.CompletedAtMs = &completedAt.Int64
	}
	return rem, err
}

func (r Repo) InsertReminder(ctx context.Context, tx *sql.Tx, rem domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminders(id,title,notes,when_ms,status,created_at_ms,completed_at_ms) VALUES (?,?,?,?,?,?,?)`,
		rem.ID, rem.Title, nullable(rem.Notes), rem.WhenMs, rem.Status, rem.CreatedAtMs, nullableInt64Ptr(rem.CompletedAtMs))
	return err
}

func (r Repo) UpdateReminder(ctx context.Context, tx *sql.Tx, rem domain.Reminder) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET title=?, notes=?, when_ms=?, status=?, completed_at_ms=? WHERE id=?`,
		rem.Title, nullable(rem.Notes), rem.WhenMs, rem.Status, nullableInt64Ptr(rem.CompletedAtMs), rem.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	return scanReminder(r.DB.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id=?`, id))
}

func (r Repo) GetReminderTx(ctx context.Context, tx *sql.Tx, id string) (domain.Reminder, error) {
	return scanReminder(tx.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id=?`, id))
}

func (r Repo) DeleteReminder(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReminderFilters narrow ListReminders.
type ReminderFilters struct {
	Status      string
	DueBeforeMs int64
	Limit       int
}

func (r Repo) ListReminders(ctx context.Context, f ReminderFilters) ([]domain.Reminder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DueBeforeMs > 0 {
		clauses = append(clauses, "when_ms<=?")
		args = append(args, f.DueBeforeMs)
	}
	query := `SELECT ` + reminderCols + ` FROM reminders`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY when_ms ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		var completedAt sql.NullInt64
		if err := rows.Scan(&rem.ID, &rem.Title, &rem.Notes, &rem.WhenMs, &rem.Status, &rem.CreatedAtMs, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			rem.CompletedAtMs = &completedAt.Int64
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

func (r Repo) CountRemindersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) UpsertWakeup(ctx context.Context, tx *sql.Tx, w domain.Wakeup) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO wakeups(name,reminder_id,kind,fire_at_ms,created_at_ms) VALUES (?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET fire_at_ms=excluded.fire_at_ms, created_at_ms=excluded.created_at_ms`,
		w.Name, w.ReminderID, w.Kind, w.FireAtMs, w.CreatedAtMs)
	return err
}

func (r Repo) GetWakeup(ctx context.Context, name string) (domain.Wakeup, error) {
	var w domain.Wakeup
	err := r.DB.QueryRowContext(ctx, `SELECT name,reminder_id,kind,fire_at_ms,created_at_ms FROM wakeups WHERE name=?`, name).
		Scan(&w.Name, &w.ReminderID, &w.Kind, &w.FireAtMs, &w.CreatedAtMs)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) ListWakeups(ctx context.Context) ([]domain.Wakeup, error) {
	return r.queryWakeups(ctx, `SELECT name,reminder_id,kind,fire_at_ms,created_at_ms FROM wakeups ORDER BY fire_at_ms ASC, name ASC`)
}

func (r Repo) ListWakeupsForReminder(ctx context.Context, reminderID string) ([]domain.Wakeup, error) {
	return r.queryWakeups(ctx, `SELECT name,reminder_id,kind,fire_at_ms,created_at_ms FROM wakeups WHERE reminder_id=? ORDER BY fire_at_ms ASC, name ASC`, reminderID)
}

func (r Repo) queryWakeups(ctx context.Context, query string, args ...any) ([]domain.Wakeup, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Wakeup
	for rows.Next() {
		var w domain.Wakeup
		if err := rows.Scan(&w.Name, &w.ReminderID, &w.Kind, &w.FireAtMs, &w.CreatedAtMs); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) DeleteWakeup(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM wakeups WHERE name=?`, name)
	return err
}

func (r Repo) DeleteWakeupsForReminder(ctx context.Context, tx *sql.Tx, reminderID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM wakeups WHERE reminder_id=?`, reminderID)
	return err
}

func (r Repo) DeleteWakeupsForReminderKind(ctx context.Context, tx *sql.Tx, reminderID, kind string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM wakeups WHERE reminder_id=? AND kind=?`, reminderID, kind)
	return err
}

const eventCols = `id,ts,type,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,COALESCE(payload_json,'') AS payload_json`

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

// LatestEventsFrom lists events newest first, starting below cursorID when set.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursorID int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if cursorID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursorID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT ` + eventCols + ` FROM events`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter lists events oldest first with id greater than afterID.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE id>? ORDER BY id ASC`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var evt domain.Event
		if err := rows.Scan(&evt.ID, &evt.TS, &evt.Type, &evt.EntityKind, &evt.EntityID, &evt.ActorID, &evt.Payload); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
