package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes: 0 success, 1 failure, 130 interrupted.
const exitInterrupted = 130

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	err := rootCmd.ExecuteContext(rootCtx)
	if err == nil {
		return
	}
	if rootCtx.Err() != nil || errors.Is(err, context.Canceled) {
		os.Exit(exitInterrupted)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
