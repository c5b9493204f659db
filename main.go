// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/catalog-cli/cmd"
)

// main is the entry point for the catalog CLI.
func main() {
	// SIGINT/SIGTERM cancel the context; a batch stops at the next item boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
