package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ryanmoran/gitbox/internal/diff"
)

func newListCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			names, err := s.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(names)
			}
			for _, name := range names {
				app.Writer.Println(name)
			}
			return nil
		},
	}
}

func newReadCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read NAME",
		Short: "Print a document's current content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			content, err := s.ReadDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(map[string]string{"name": args[0], "content": content})
			}
			app.Writer.Print(content)
			return nil
		},
	}
}

func newWriteCommand(app *App, rt func() *runtime) *cobra.Command {
	var content, file string

	cmd := &cobra.Command{
		Use:   "write NAME",
		Short: "Replace a document's content and commit it",
		Long:  `Replace a document's content with --content, the contents of --file, or stdin, and commit the change as "update <file>".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(app, cmd, content, file)
			if err != nil {
				return err
			}

			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			if err := s.WriteDocument(cmd.Context(), args[0], body); err != nil {
				return err
			}

			app.Writer.Printf("Document '%s' saved.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "Document content")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read content from a file")
	return cmd
}

func newCreateCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	var content, file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document under a new random name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(app, cmd, content, file)
			if err != nil {
				return err
			}

			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			name, err := s.CreateDocument(cmd.Context(), body)
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(map[string]string{"name": name})
			}
			app.Writer.Println(name)
			return nil
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "Document content")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read content from a file")
	return cmd
}

func newHistoryCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history NAME",
		Short: "List a document's revisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			revisions, err := s.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(revisions)
			}
			for _, revision := range revisions {
				app.Writer.Printf("%s  %s  %s  %s\n", short(revision.Hash), revision.Date, revision.Author, revision.Message)
			}
			return nil
		},
	}
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func newDiffCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "diff NAME REVISION",
		Short: "Show the change a revision made to a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			text, err := s.DiffAt(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if raw {
				app.Writer.Print(text)
				return nil
			}

			lines := diff.Parse(text)
			if options.json {
				return app.Writer.JSON(lines)
			}

			_, body := diff.Split(lines)
			for _, line := range body {
				app.Writer.Printf("%4s %4s %s %s\n", lineNumber(line.OldLine), lineNumber(line.NewLine), line.Gutter(), line.Text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print git's output unparsed")
	return cmd
}

func lineNumber(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprint(*n)
}

func newSnapshotCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot NAME REVISION",
		Short: "Show a document just before and just after a revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			snapshot, err := s.SnapshotAt(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(snapshot)
			}
			app.Writer.Println("--- before")
			app.Writer.Print(side(snapshot.Before))
			app.Writer.Println("--- after")
			app.Writer.Print(side(snapshot.After))
			return nil
		},
	}
}

func side(content *string) string {
	if content == nil {
		return "(absent)\n"
	}
	if !strings.HasSuffix(*content, "\n") {
		return *content + "\n"
	}
	return *content
}

func newRestoreCommand(app *App, rt func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "restore NAME REVISION",
		Short: "Restore a document to its content at a revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			if err := s.Restore(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			app.Writer.Printf("Document '%s' restored to %s.\n", args[0], short(args[1]))
			return nil
		},
	}
}

func newStatusCommand(app *App, rt func() *runtime, options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the repository's working-tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt().Store(cmd.Context())
			if err != nil {
				return err
			}

			status, err := s.Status(cmd.Context())
			if err != nil {
				return err
			}

			if options.json {
				return app.Writer.JSON(map[string]string{"status": status})
			}
			app.Writer.Print(status)
			return nil
		},
	}
}
