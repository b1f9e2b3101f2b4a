package app

import (
	"context"
	"errors"
	"fmt"

	"flight-deal-alerts/internal/service"
)

// Cycle runs one watch cycle immediately. With Origin/Dest set, only that
// single route/date is attempted; Force bypasses cooldown checks.
func (a *App) Cycle(ctx context.Context, opts CycleOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}

	if a.Config.Scheduler.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Scheduler.CycleTimeout)
		defer cancel()
	}

	var report service.CycleReport
	if opts.Origin != "" || opts.Dest != "" {
		if opts.Origin == "" || opts.Dest == "" || opts.Depart == "" {
			return errors.New("--origin, --dest, and --depart are required together")
		}
		attempt := service.BuildAttempt(a.Config.Routes, a.Config.Sending, opts.Origin, opts.Dest, opts.Depart, opts.Return)
		report, err = svc.RunAttempt(ctx, attempt, opts.Force)
	} else {
		report, err = svc.RunCycle(ctx, opts.Force)
	}

	if errors.Is(err, service.ErrCycleLocked) {
		return fmt.Errorf("another process is running a cycle")
	}
	if err != nil {
		return err
	}

	logReport(a.Logger, report)
	return nil
}
