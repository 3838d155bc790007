// Command browsersession drives a headless browser through a list of steps
// and writes the result of every step to a directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(newGlobalState()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err) //nolint:forbidigo
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
