package cli

import (
	"context"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/replication"
)

func newSyncCommands(withApp appRunner) []*cobra.Command {
	var force bool

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to the server",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runSync),
	}

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Push every configured key that differs from the server",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runBackup),
	}

	restore := &cobra.Command{
		Use:   "restore",
		Short: "Overwrite local values with the server copy",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runRestore),
	}

	hydrate := &cobra.Command{
		Use:   "hydrate [key...]",
		Short: "Pull keys that changed on the server",
		RunE: withApp(func(app *App, ctx context.Context, args []string) error {
			return app.runHydrate(ctx, force, args)
		}),
	}
	hydrate.Flags().BoolVar(&force, "force", false, "re-fetch and re-verify regardless of versions")

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List queued operations",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runPending),
	}

	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "Pull every key and report the conflicts and integrity failures found",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runConflicts),
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Pull once, then keep syncing in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE:  withApp((*App).runForeground),
	}

	return []*cobra.Command{sync, backup, restore, hydrate, pending, conflicts, run}
}

func (a *App) runSync(ctx context.Context, _ []string) error {
	res, err := a.engine.SyncPending(ctx)
	if err != nil {
		return err
	}
	switch {
	case res.Deferred:
		a.io.Println("Sync deferred: a pull is in progress.")
		return nil
	case len(res.Succeeded)+len(res.Retrying)+len(res.Failed) == 0:
		if n := len(a.engine.PendingOperations()); n > 0 {
			a.io.Printf("⚠️  Server unreachable, %d operation(s) stay queued\n", n)
		} else {
			a.io.Println("✓ Nothing to sync")
		}
		return nil
	}

	a.io.Printf("Pushed:   %d\n", len(res.Succeeded))
	if len(res.Retrying) > 0 {
		a.io.Printf("Retrying: %d\n", len(res.Retrying))
	}
	a.printFailures(res.Failed)
	a.printConflicts()
	return nil
}

func (a *App) runBackup(ctx context.Context, _ []string) error {
	res, err := a.engine.SyncAll(ctx)
	if err != nil {
		return err
	}
	a.io.Printf("Backed up: %d\n", len(res.BackedUpKeys))
	a.io.Printf("Unchanged: %d\n", len(res.SkippedKeys))
	a.printFailures(res.Failed)
	if res.Success() {
		a.io.Println("✓ Backup completed")
	}
	return nil
}

func (a *App) runRestore(ctx context.Context, _ []string) error {
	res, err := a.engine.Restore(ctx)
	if err != nil {
		return err
	}
	a.io.Printf("Restored: %d\n", len(res.RestoredKeys))
	a.io.Printf("Skipped:  %d\n", len(res.SkippedKeys))
	a.printFailures(res.Failed)
	a.printIntegrity(res.IntegrityFailures)
	if res.Success() {
		a.io.Println("✓ Restore completed")
	}
	return nil
}

func (a *App) runHydrate(ctx context.Context, force bool, keys []string) error {
	hydrate := a.engine.Hydrate
	if force {
		hydrate = a.engine.ForceHydrate
	}
	res, err := hydrate(ctx, keys...)
	if err != nil {
		return err
	}
	a.printHydration(res)
	return nil
}

func (a *App) runPending(_ context.Context, _ []string) error {
	ops := a.engine.PendingOperations()
	if len(ops) == 0 {
		a.io.Println("No queued operations.")
		return nil
	}
	for _, op := range ops {
		a.io.Printf("%-6s %s (retries %d/%d)\n", op.Type, op.Key, op.RetryCount, op.MaxRetries)
	}
	return nil
}

// runConflicts показывает конфликты текущего процесса: журнал не переживает перезапуск,
// поэтому сначала выполняется гидратация
func (a *App) runConflicts(ctx context.Context, _ []string) error {
	res, err := a.engine.Hydrate(ctx)
	if err != nil {
		return err
	}
	a.printFailures(res.Failed)

	infos := a.engine.Conflicts()
	failures := a.engine.IntegrityFailures()
	if len(infos) == 0 && len(failures) == 0 {
		a.io.Println("No conflicts.")
		return nil
	}
	a.printConflicts()
	for _, f := range failures {
		a.io.Printf("⚠️  %s: %s\n", f.At.Format(time.RFC3339), f.Error())
	}
	return nil
}

// runForeground держит процесс до SIGINT/SIGTERM, синхронизируя по таймеру
func (a *App) runForeground(ctx context.Context, _ []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if res, err := a.engine.Hydrate(ctx); err != nil {
		a.io.Printf("⚠️  Initial pull failed: %v\n", err)
	} else {
		a.printHydration(res)
	}

	a.io.Println("Syncing, press Ctrl+C to stop.")
	a.engine.Run(ctx)
	a.printConflicts()
	for _, f := range a.engine.IntegrityFailures() {
		a.io.Printf("⚠️  %s\n", f.Error())
	}
	return nil
}

func (a *App) printHydration(res *replication.HydrationResult) {
	a.io.Printf("Pulled:     %d\n", len(res.HydratedKeys))
	a.io.Printf("Up to date: %d\n", len(res.UpToDateKeys))
	if len(res.ConflictKeys) > 0 {
		a.io.Printf("Conflicts:  %d\n", len(res.ConflictKeys))
	}
	a.printFailures(res.Failed)
	a.printIntegrity(res.IntegrityFailures)
	a.printConflicts()
}

func (a *App) printFailures(failed map[string]error) {
	if len(failed) == 0 {
		return
	}
	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	a.io.Printf("Failed:   %d\n", len(keys))
	for _, k := range keys {
		a.io.Printf("  %s: %v\n", k, failed[k])
	}
}

func (a *App) printIntegrity(keys []string) {
	for _, k := range keys {
		a.io.Printf("⚠️  Integrity check failed for %s\n", k)
	}
}

func (a *App) printConflicts() {
	for _, c := range a.engine.Conflicts() {
		a.io.Printf("Conflict on %s (%s): %s wins\n", c.Key, c.Strategy, c.Winner)
	}
}
