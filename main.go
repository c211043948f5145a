package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic occurred: %v", r)
			os.Exit(1)
		}
	}()

	if err := run(os.Args, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}

func run(args, env []string) error {
	cleanupMgr := internal.NewCleanupManager(nil)
	defer cleanupMgr.Execute()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Writer:  internal.NewStandardWriter(),
		Env:     env,
		Stdin:   os.Stdin,
		Cleanup: cleanupMgr,
	}

	cmd := cli.NewRootCommand(app)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}
