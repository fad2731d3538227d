package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/client/iocli"
)

type appRunner func(fn func(app *App, ctx context.Context, args []string) error) func(*cobra.Command, []string) error

func newAuthCommands(opts *options, io iocli.IO, withApp appRunner) []*cobra.Command {
	var username string

	credentials := func(fn func(app *App, ctx context.Context, username, password string) error) func(*cobra.Command, []string) error {
		return withApp(func(app *App, ctx context.Context, _ []string) error {
			user, err := readUsername(io, username)
			if err != nil {
				return err
			}
			password, err := readPassword(io, opts.passwordFile)
			if err != nil {
				return err
			}
			return fn(app, ctx, user, password)
		})
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		Args:  cobra.NoArgs,
		RunE:  credentials((*App).runRegister),
	}
	register.Flags().StringVarP(&username, "username", "u", "", "username (prompted when empty)")

	login := &cobra.Command{
		Use:   "login",
		Short: "Start a session and pull the remote state",
		Args:  cobra.NoArgs,
		RunE:  credentials((*App).runLogin),
	}
	login.Flags().StringVarP(&username, "username", "u", "", "username (prompted when empty)")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Drop queued changes and end the session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, ctx context.Context, _ []string) error {
			return app.runLogout(ctx)
		}),
	}

	status := &cobra.Command{
		Use:   "status [key...]",
		Short: "Show session, queue and per-key sync state",
		RunE:  withApp((*App).runStatus),
	}

	return []*cobra.Command{register, login, logout, status}
}

func (a *App) runRegister(ctx context.Context, username, password string) error {
	auth, err := a.session.Register(ctx, username, password)
	if err != nil {
		return err
	}
	a.io.Println("✓ Registration successful!")
	a.io.Printf("Username: %s\n", auth.Username)
	a.io.Printf("User ID:  %s\n", auth.UserID)
	return nil
}

func (a *App) runLogin(ctx context.Context, username, password string) error {
	auth, err := a.session.Login(ctx, username, password)
	if err != nil {
		return err
	}
	a.io.Println("✓ Login successful!")
	a.io.Printf("Username: %s\n", auth.Username)

	// Сразу подтягиваем то, что уже есть на сервере
	res, err := a.engine.Hydrate(ctx)
	if err != nil {
		a.io.Printf("⚠️  Initial pull failed: %v\n", err)
		return nil
	}
	a.printHydration(res)
	return nil
}

func (a *App) runLogout(ctx context.Context) error {
	if err := a.session.Logout(ctx, a.engine); err != nil {
		return err
	}
	a.io.Println("✓ Logout successful!")
	a.io.Println("Queued changes were dropped and the local session deleted.")
	return nil
}

func (a *App) runStatus(ctx context.Context, keys []string) error {
	ok, err := a.session.IsAuthenticated(ctx)
	if err != nil {
		return err
	}
	if !ok {
		a.io.Println("Status: Not authenticated")
		a.io.Println("Run 'docsync login' to authenticate.")
	} else {
		auth, err := a.session.Current(ctx)
		if err != nil {
			return err
		}
		a.io.Println("Status: Authenticated")
		a.io.Printf("Username: %s\n", auth.Username)
		a.io.Printf("Server:   %s\n", auth.ServerURL)
		a.io.Printf("Token expires: %s\n", time.Unix(auth.ExpiresAt, 0).Format(time.RFC3339))
	}

	if a.online != nil && a.online.IsOnline(ctx) {
		a.io.Println("Server: reachable")
	} else {
		a.io.Println("Server: unreachable")
	}

	if at, ok, err := a.engine.LastBackup(ctx); err != nil {
		a.io.Printf("Last backup: unknown (%v)\n", err)
	} else if ok {
		a.io.Printf("Last backup: %s\n", at.Format(time.RFC3339))
	} else {
		a.io.Println("Last backup: never")
	}

	if pending := len(a.engine.PendingOperations()); pending > 0 {
		a.io.Printf("⚠️  Pending sync: %d operation(s)\n", pending)
	} else {
		a.io.Println("✓ Nothing waiting to be synced")
	}

	for _, key := range keys {
		meta, err := a.engine.Status(ctx, key)
		if err != nil {
			return err
		}
		if meta == nil {
			a.io.Printf("%s: untracked\n", key)
			continue
		}
		a.io.Printf("%s: %s (version %d)\n", key, meta.SyncStatus, meta.Version)
	}
	return nil
}
