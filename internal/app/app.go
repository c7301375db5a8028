package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"tickler/internal/alert"
	"tickler/internal/config"
	"tickler/internal/db"
	"tickler/internal/engine"
	"tickler/internal/migrate"
	"tickler/internal/timer"
)

// Runtime wires the database, config, timer service and engine together
// for long-running processes. CLI one-shots open the pieces directly.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Timer  *timer.Service
	Engine engine.Engine
}

// Start opens the workspace, runs migrations, arms timers for every
// pending reminder and settles the overdue ones.
func Start(ctx context.Context, workspace string) (*Runtime, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	database, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		database.Close()
		return nil, err
	}

	rt := &Runtime{DB: database, Config: cfg}
	rt.Timer = timer.New(func(name string) {
		rt.Engine.OnFire(name)
	})
	rt.Engine = engine.New(database, cfg, rt.Timer, alert.FromConfig(cfg))
	rt.Timer.Start()

	settled, armed, err := rt.Engine.Reconcile(ctx, "")
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("startup sweep: %w", err)
	}
	if settled > 0 || armed > 0 {
		log.Printf("startup sweep: settled=%d armed=%d", settled, armed)
	}
	return rt, nil
}

func (rt *Runtime) Close() {
	if rt.Timer != nil {
		rt.Timer.Stop()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
