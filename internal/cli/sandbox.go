package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newSandboxCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage the sandbox running the companion service",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Provision a sandbox unless a live session is cached",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				manager, err := rt().Manager(cmd.Context())
				if err != nil {
					return err
				}

				session, err := manager.EnsureReady(cmd.Context())
				if err != nil {
					return err
				}

				if options.json {
					return app.Writer.JSON(map[string]any{
						"id":         session.ID,
						"endpoint":   session.Endpoint,
						"created_at": session.CreatedAt,
					})
				}
				app.Writer.Println(session.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Terminate the current sandbox and forget its session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				manager, err := rt().Manager(cmd.Context())
				if err != nil {
					return err
				}

				stopped, err := manager.Stop(cmd.Context())
				if err != nil {
					return err
				}

				if !stopped {
					app.Writer.Warningf("no sandbox session is cached")
					return nil
				}
				app.Writer.Println("Sandbox stopped.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List gitbox sandbox containers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				manager, err := rt().Manager(cmd.Context())
				if err != nil {
					return err
				}

				sandboxes, err := manager.List(cmd.Context())
				if err != nil {
					return err
				}

				if options.json {
					return app.Writer.JSON(sandboxes)
				}
				for _, sandbox := range sandboxes {
					app.Writer.Printf("%s  %s  %s  %s\n", short(sandbox.ID), sandbox.Name, sandbox.State, sandbox.Created.Format(time.RFC3339))
				}
				return nil
			},
		},
	)

	return cmd
}

func newCacheCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the expiring cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rt().Cache()
			if err != nil {
				return err
			}

			removed, err := c.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(map[string]any{"backend": c.Backend(), "removed": removed})
			}
			app.Writer.Printf("Removed %d expired entries from the %s cache.\n", removed, c.Backend())
			return nil
		},
	})

	return cmd
}
