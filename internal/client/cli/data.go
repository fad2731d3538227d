package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newDataCommands(withApp appRunner) []*cobra.Command {
	var fromFile string

	set := &cobra.Command{
		Use:   "set <key> [json]",
		Short: "Store a JSON value under key and queue it for sync",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(app *App, ctx context.Context, args []string) error {
			raw, err := valueArg(args, fromFile)
			if err != nil {
				return err
			}
			return app.runSet(ctx, args[0], raw)
		}),
	}
	set.Flags().StringVarP(&fromFile, "file", "f", "", "read the JSON value from a file")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the local value of key",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp((*App).runGet),
	}

	del := &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete key locally and on the server",
		Args:    cobra.ExactArgs(1),
		RunE:    withApp((*App).runDelete),
	}

	keys := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"list"},
		Short:   "List local keys",
		Args:    cobra.NoArgs,
		RunE:    withApp((*App).runKeys),
	}

	return []*cobra.Command{set, get, del, keys}
}

func valueArg(args []string, fromFile string) (string, error) {
	switch {
	case fromFile != "" && len(args) == 2:
		return "", fmt.Errorf("value given both inline and with --file")
	case fromFile != "":
		content, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read value file: %w", err)
		}
		return strings.TrimSpace(string(content)), nil
	case len(args) == 2:
		return args[1], nil
	default:
		return "", fmt.Errorf("value is required: pass it inline or with --file")
	}
}

func (a *App) runSet(ctx context.Context, key, raw string) error {
	if err := a.data.PutJSON(ctx, key, raw); err != nil {
		return err
	}
	a.io.Printf("✓ %s saved\n", key)
	return nil
}

func (a *App) runGet(ctx context.Context, args []string) error {
	value, err := a.data.Get(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := value.MarshalJSON()
	if err != nil {
		return err
	}
	a.io.Println(string(out))
	return nil
}

func (a *App) runDelete(ctx context.Context, args []string) error {
	if err := a.data.Remove(ctx, args[0]); err != nil {
		return err
	}
	a.io.Printf("✓ %s deleted\n", args[0])
	return nil
}

func (a *App) runKeys(ctx context.Context, _ []string) error {
	keys, err := a.data.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		a.io.Println("No keys stored.")
		return nil
	}
	for _, k := range keys {
		a.io.Println(k)
	}
	return nil
}
