// Package main runs the stats server.
//
//	server serve    poll upstreams, reconstruct ledgers and serve the HTTP API
//	server migrate  apply the embedded Postgres and ClickHouse migrations
//	server verify   re-derive stored ledger rows from stored logs
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Second signal or a stuck shutdown forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received %v, shutting down\n", sig)
		cancel()

		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "received second %v, forcing exit\n", sig)
		case <-time.After(30 * time.Second):
			fmt.Fprintln(os.Stderr, "graceful shutdown timed out after 30s, forcing exit")
		}
		os.Exit(1)
	}()

	if err := rootCommand().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "DEX analytics stats server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "KEY=VALUE file loaded before the environment (existing variables win)")
	root.AddCommand(serveCommand(), migrateCommand(), verifyCommand())
	return root
}
