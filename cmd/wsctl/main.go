// Command wsctl drives a managed ML workspace: it resolves a credential,
// binds to the workspace named by config.json, and submits training and
// AutoML jobs or registers environments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/wsctl/cmd/wsctl/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	os.Exit(cmd.ExitCode(err))
}
