package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/store"
)

// Runner drives the controller from store change notifications and an
// optional cron schedule.
type Runner struct {
	ctrl     *Controller
	store    store.Store
	schedule string

	wg sync.WaitGroup
}

func NewRunner(ctrl *Controller, st store.Store, schedule string) *Runner {
	return &Runner{ctrl: ctrl, store: st, schedule: schedule}
}

// ValidateSchedule checks a standard five-field cron expression.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Run loads the variables, runs an initial pass and then reacts to changes
// until ctx is done. It waits for a running pass before returning.
func (r *Runner) Run(ctx context.Context) error {
	changes, err := r.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch store: %w", err)
	}

	if err := r.ctrl.State().RefreshVariables(ctx, r.store); err != nil {
		slog.Error("Load variables", slog.Any("error", err))
	}
	r.Trigger(ctx, "startup")

	var c *cron.Cron
	if r.schedule != "" {
		if err := ValidateSchedule(r.schedule); err != nil {
			return err
		}
		c = cron.New()
		if _, err := c.AddFunc(r.schedule, func() { r.Trigger(ctx, "schedule") }); err != nil {
			return fmt.Errorf("failed to schedule resync: %w", err)
		}
		c.Start()
		slog.Info("Resync scheduled", slog.String("schedule", r.schedule))
	}
	defer func() {
		if c != nil {
			<-c.Stop().Done()
		}
		r.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			r.handle(ctx, change)
		}
	}
}

func (r *Runner) handle(ctx context.Context, change store.Change) {
	slog.Debug("Store changed", slog.Any("keys", change))
	if change.Has(model.KeyEnvironmentVariables) {
		if err := r.ctrl.State().RefreshVariables(ctx, r.store); err != nil {
			slog.Error("Refresh variables", slog.Any("error", err))
		}
	}
	for _, k := range model.Keys {
		if change.Has(k) {
			r.Trigger(ctx, "change")
			return
		}
	}
}

// Trigger starts a pass in the background. It is dropped by the controller
// if a pass is already running.
func (r *Runner) Trigger(ctx context.Context, reason string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		slog.Debug("Synchronize triggered", slog.String("reason", reason))
		if err := r.ctrl.Synchronize(ctx); err != nil {
			slog.Error("Synchronize", slog.String("reason", reason), slog.Any("error", err))
		}
	}()
}
