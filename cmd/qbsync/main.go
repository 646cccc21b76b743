// Command qbsync runs the billing export pipeline from the command line.
//
//	qbsync process [file|dir]   post one file or every pending file
//	qbsync watch                poll the input directory until interrupted
//	qbsync token                show the stored QuickBooks token
//	qbsync token url            print the consent URL for a new token
//	qbsync migrate up           apply the PostgreSQL schema migrations
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qbsync",
		Short: "Post clinic billing exports to QuickBooks Online",
		Long: `qbsync reads CSV, TSV and Excel billing exports, groups rows into
invoices and sales receipts, and posts them to QuickBooks Online.

Configuration comes from config.toml, .env and QBSYNC_* environment
variables, the same as the HTTP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newProcessCmd(), newWatchCmd(), newTokenCmd(), newMigrateCmd(), newVersionCmd())
	return root
}
