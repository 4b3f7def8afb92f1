// ftpd serves the control connection of a file transfer server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ftpd: %v\n", err)
		os.Exit(1)
	}
}
