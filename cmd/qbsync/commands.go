package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	syncapp "github.com/qbsync/backend/internal/application/sync"
	"github.com/qbsync/backend/internal/bootstrap"
	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/infrastructure/config"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/infrastructure/scheduler"
)

// withApp loads configuration, builds the application and releases it
// after fn returns
func withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	log = app.Logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	return fn(app)
}

func newProcessCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "process [file|dir]",
		Short: "Post a billing export, or every pending file in a directory",
		Long: `Process posts the given file, or every supported file in the given
directory. Without an argument the configured input directory is used.
Files are moved to the processed or error directory afterwards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				orch, err := app.RequireOrchestrator()
				if err != nil {
					return err
				}
				target := app.Config.Paths.InputDir
				if len(args) == 1 {
					target = args[0]
				}
				results, err := processTarget(cmd.Context(), orch, target)
				if len(results) > 0 {
					if werr := writeResults(cmd.OutOrStdout(), results, asJSON); werr != nil {
						return werr
					}
				}
				if err != nil {
					return err
				}
				return failedResults(results)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

// processTarget runs a single file, or every pending file of a directory
func processTarget(ctx context.Context, orch *syncapp.Orchestrator, target string) ([]*syncapp.Result, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		res, err := orch.ProcessFile(ctx, target, bulk.ImportSourceCLI)
		if res == nil {
			return nil, err
		}
		return []*syncapp.Result{res}, err
	}

	names, err := scheduler.PendingFiles(target)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no supported files in %s", target)
	}

	var (
		results []*syncapp.Result
		errs    []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := orch.ProcessFile(ctx, filepath.Join(target, name), bulk.ImportSourceCLI)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return results, errors.Join(errs...)
}

func writeResults(w io.Writer, results []*syncapp.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, res := range results {
		status := "OK"
		if !res.Success {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s  %s  posted=%d skipped=%d failed=%d\n",
			status, res.FileName, res.Posted, res.Skipped, res.Failed)
		if res.Error != "" {
			fmt.Fprintf(w, "    %s\n", res.Error)
		}
		for _, tx := range res.Transactions {
			if tx.Error != "" {
				fmt.Fprintf(w, "    %s %s: %s\n", tx.Kind, tx.InvoiceNo, tx.Error)
			}
		}
	}
	return nil
}

func failedResults(results []*syncapp.Result) error {
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the input directory and post new files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				orch, err := app.RequireOrchestrator()
				if err != nil {
					return err
				}

				wcfg := scheduler.DefaultWatcherConfig()
				wcfg.InputDir = app.Config.Paths.InputDir
				switch {
				case interval > 0:
					wcfg.Interval = interval
				case app.Config.Watcher.Interval > 0:
					wcfg.Interval = app.Config.Watcher.Interval
				}

				watcher, err := scheduler.NewInputWatcher(wcfg, scheduler.ProcessorFunc(func(ctx context.Context) error {
					_, err := orch.ProcessDirectory(ctx, bulk.ImportSourceWatcher)
					return err
				}), app.Logger.Named("watcher"))
				if err != nil {
					return err
				}

				ctx := cmd.Context()
				if err := watcher.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()

				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return watcher.Stop(stopCtx)
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from configuration)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show the stored QuickBooks token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if app.Tokens == nil {
					_, err := app.RequireOrchestrator()
					return err
				}
				tok := app.Tokens.Snapshot()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "realm:          %s\n", tok.RealmID)
				fmt.Fprintf(w, "access token:   %s\n", maskSecret(tok.AccessToken))
				fmt.Fprintf(w, "expires:        %s\n", formatTime(tok.Expiry))
				fmt.Fprintf(w, "refresh token:  %s\n", maskSecret(tok.RefreshToken))
				fmt.Fprintf(w, "refresh expiry: %s\n", formatTime(tok.RefreshTokenExpiry))
				fmt.Fprintf(w, "updated:        %s\n", formatTime(tok.UpdatedAt))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the Intuit consent URL; the server's /callback stores the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if app.Tokens == nil {
					_, err := app.RequireOrchestrator()
					return err
				}
				state, err := app.States.Issue()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), app.Tokens.AuthCodeURL(state))
				return nil
			})
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "qbsync", bootstrap.Version)
		},
	}
}

// maskSecret keeps the last four characters of a token
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(none)"
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
