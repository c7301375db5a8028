package engine

import (
	"context"
	"log"

	"tickler/internal/alert"
	"tickler/internal/domain"
	"tickler/internal/events"
	"tickler/internal/repo"
)

// Reconcile walks every pending reminder: due ones are settled and
// alerted exactly once, future ones get their base wakeup re-armed.
// excludeID skips the reminder whose fire triggered the sweep. The pass
// is idempotent and per-item failures do not stop it.
func (e Engine) Reconcile(ctx context.Context, excludeID string) (settled, armed int, err error) {
	nowMs := e.nowMs()
	pending, err := e.Repo.ListReminders(ctx, repo.ReminderFilters{Status: domain.StatusPending})
	if err != nil {
		return 0, 0, err
	}
	for _, rem := range pending {
		if rem.ID == excludeID {
			continue
		}
		if rem.WhenMs <= nowMs {
			res, err := e.settle(ctx, rem.ID, "", SystemActor)
			if err != nil {
				log.Printf("sweep: settle %s: %v", rem.ID, err)
				continue
			}
			if res != nil {
				settled++
				e.Alerts.Raise(ctx, *res, alert.ViaSweep)
			}
		} else {
			if err := e.Schedule(ctx, rem.ID, rem.WhenMs); err != nil {
				log.Printf("sweep: schedule %s: %v", rem.ID, err)
				continue
			}
			armed++
		}
	}
	if settled > 0 {
		if err := e.appendEvent(ctx, events.SweepCompleted, "sweep", "", SystemActor, events.EventPayload{
			"settled": settled,
			"armed":   armed,
		}); err != nil {
			log.Printf("sweep: record event: %v", err)
		}
	}
	return settled, armed, nil
}
