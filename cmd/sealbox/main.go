// Command sealbox is a local, single-file encrypted password vault.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/forest6511/sealbox/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
