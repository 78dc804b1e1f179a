package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
)

// Config sizes the worker pools and the renewal sweep.
type Config struct {
	DunningWorkers int
	ActionWorkers  int
	// SweepInterval is the period of the overdue-renewal sweep; zero disables it.
	SweepInterval time.Duration
}

// Setup creates a River client with every worker registered and runs
// River's internal migrations. The caller must fill in h, then call
// client.Start() to begin processing jobs and client.Stop() for graceful
// shutdown.
func Setup(ctx context.Context, db *sql.DB, h *Handlers, cfg Config) (*Client, error) {
	driver := riversqlite.New(db)

	// Run River's own migrations (creates river_job, river_leader, etc.).
	// These are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &DunningAttemptWorker{handlers: h})
	river.AddWorker(workers, &RenewalWorker{handlers: h})
	river.AddWorker(workers, &RenewalSweepWorker{handlers: h})
	river.AddWorker(workers, &WorkflowActionsWorker{handlers: h})

	var periodic []*river.PeriodicJob
	if cfg.SweepInterval > 0 {
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(cfg.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return RenewalSweepArgs{Limit: 500}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
			QueueDunning:       {MaxWorkers: max(cfg.DunningWorkers, 1)},
			QueueActions:       {MaxWorkers: max(cfg.ActionWorkers, 1)},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
