package app

import (
	"context"
	"fmt"
	"os"
)

// Forgive expires cooldowns early, either for one route or for everything,
// so the next cycle re-checks immediately.
func (a *App) Forgive(ctx context.Context, opts ForgiveOptions) error {
	if (opts.Origin == "") != (opts.Dest == "") {
		return fmt.Errorf("--origin and --dest must be given together")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	count, err := store.ForgiveCooldowns(ctx, opts.Origin, opts.Dest)
	if err != nil {
		return err
	}

	if opts.Origin != "" {
		fmt.Fprintf(os.Stdout, "expired %d cooldowns for %s-%s\n", count, opts.Origin, opts.Dest)
	} else {
		fmt.Fprintf(os.Stdout, "expired %d cooldowns\n", count)
	}
	return nil
}
