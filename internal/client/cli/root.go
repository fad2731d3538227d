package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/client/iocli"
)

// PasswordEnv имя переменной окружения с паролем
const PasswordEnv = "DOCSYNC_PASSWORD"

// BuildInfo is printed by the version command.
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

type options struct {
	configPath   string
	passwordFile string
}

// NewRootCmd builds the client command tree. open is called once per
// command that needs the local store.
func NewRootCmd(info BuildInfo, io iocli.IO, open Opener) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "docsync",
		Short:         "docsync client: local key-value store replicated to a document server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(io)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (default $DOCSYNC_CONFIG or docsync.yaml)")
	root.PersistentFlags().StringVar(&opts.passwordFile, "password-file", "", "read the password from a file (overridden by $"+PasswordEnv+")")

	withApp := func(fn func(app *App, ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := open(ctx, opts.configPath, io)
			if err != nil {
				return err
			}
			runErr := fn(app, ctx, args)
			// Закрываем даже после отмены контекста: отложенные изменения должны попасть в очередь
			closeErr := app.Close(context.WithoutCancel(ctx))
			return errors.Join(runErr, closeErr)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			io.Printf("docsync client\n")
			io.Printf("Version:    %s\n", info.Version)
			io.Printf("Build Date: %s\n", info.BuildDate)
			io.Printf("Git Commit: %s\n", info.GitCommit)
		},
	})

	root.AddCommand(newAuthCommands(opts, io, withApp)...)
	root.AddCommand(newDataCommands(withApp)...)
	root.AddCommand(newSyncCommands(withApp)...)
	return root
}

// readPassword получает пароль из источников по приоритету:
// 1. переменная окружения DOCSYNC_PASSWORD
// 2. файл из --password-file
// 3. интерактивный ввод
func readPassword(io iocli.IO, passwordFile string) (string, error) {
	if env := os.Getenv(PasswordEnv); env != "" {
		return env, nil
	}

	if passwordFile != "" {
		content, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimSpace(string(content))
		if password == "" {
			return "", fmt.Errorf("password file is empty")
		}
		return password, nil
	}

	password, err := io.ReadPassword("Password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}

func readUsername(io iocli.IO, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	username, err := io.ReadInput("Username: ")
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return username, nil
}
