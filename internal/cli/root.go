package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryanmoran/gitbox/internal"
)

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
	json       bool
}

// NewRootCommand builds the gitbox command tree.
func NewRootCommand(app *App) *cobra.Command {
	app.defaults()

	var (
		options rootOptions
		rt      *runtime
	)

	root := &cobra.Command{
		Use:   "gitbox",
		Short: "Versioned documents backed by git running in disposable sandboxes",
		Long: `gitbox stores documents in a git repository that lives on a persistent
Docker volume. Every git command runs inside a short-lived sandbox container
that is provisioned on demand and reclaimed after its lifetime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(options.configPath, options.envFile, app.Env)
			if err != nil {
				return err
			}
			if options.verbose {
				config.LogLevel = "debug"
			}

			rt = newRuntime(app, config)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&options.configPath, "config", "c", "", "Path to a YAML config file (default $GITBOX_CONFIG)")
	root.PersistentFlags().StringVar(&options.envFile, "env-file", ".env", "Path to a dotenv file")
	root.PersistentFlags().BoolVarP(&options.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&options.json, "json", false, "Output in JSON format")

	current := func() *runtime { return rt }

	root.AddCommand(
		newListCommand(app, current, &options),
		newReadCommand(app, current, &options),
		newWriteCommand(app, current),
		newCreateCommand(app, current, &options),
		newHistoryCommand(app, current, &options),
		newDiffCommand(app, current, &options),
		newSnapshotCommand(app, current, &options),
		newRestoreCommand(app, current),
		newStatusCommand(app, current, &options),
		newSandboxCommand(app, current, &options),
		newCacheCommand(app, current, &options),
	)

	return root
}

// readContent returns the --content flag, the --file contents or stdin, in
// that order of preference.
func readContent(app *App, cmd *cobra.Command, content, file string) (string, error) {
	if cmd.Flags().Changed("content") {
		return content, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %q: %w", file, err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(app.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read content from stdin: %w", err)
	}
	return string(data), nil
}

// ExitCode maps an error onto a process exit status.
func ExitCode(err error) int {
	switch internal.StatusCode(err) {
	case http.StatusOK:
		return 0
	case http.StatusBadRequest:
		return 2
	case http.StatusNotFound:
		return 3
	case http.StatusUnauthorized:
		return 4
	case http.StatusBadGateway:
		return 5
	default:
		return 1
	}
}
