// Package main is the entry point for the shipyard binary.
//
// Commands: serve, deploy, token, version.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := Root()
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		var sErr *ServerError
		if errors.As(err, &sErr) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", sErr.Op, sErr.Err)
			return sErr.ExitCode
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitConfigError
	}

	return ExitSuccess
}
