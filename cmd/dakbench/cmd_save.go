package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dakbench/internal/commit"
	"dakbench/internal/github"
	"dakbench/internal/staging"
	"dakbench/internal/validation"
	"dakbench/internal/watch"
)

var (
	saveMessage  string
	saveReadOnly bool
)

// validateCmd runs the validation bridge over the staged set
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate all staged files",
	Long: `Runs per-artifact-type validation over every staged file and prints a
summary. Saving is blocked while any error-severity finding remains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, _, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		report := validation.NewBridge(nil).Validate(mgr.Snapshot())
		printReport(report)
		if !report.CanSave() {
			return fmt.Errorf("%d validation error(s), save is blocked", report.Errors)
		}
		return nil
	},
}

// saveCmd commits the staged set upstream
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Commit staged files to GitHub",
	Long: `Validates the staged set, then commits each staged file to the target
branch via the GitHub contents API. Files are committed independently; a
conflict on one file does not abort the rest. Successfully committed files
are removed from the staging ground, failed ones stay staged for retry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, key, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		snapshot := mgr.Snapshot()
		if len(snapshot.Files) == 0 {
			return errors.New("nothing staged")
		}

		report := validation.NewBridge(nil).Validate(snapshot)
		if cfg.Commit.BlockOnValidationErrors && !report.CanSave() {
			printReport(report)
			return fmt.Errorf("%d validation error(s), save is blocked", report.Errors)
		}

		client := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Token, cfg.GitHubTimeout())
		coordinator := commit.NewCoordinator(client, mgr)

		result, err := coordinator.Save(cmd.Context(), snapshot, commit.Options{
			Message:     saveMessage,
			WriteAccess: !saveReadOnly && cfg.GitHub.Token != "",
			Concurrency: cfg.Commit.Concurrency,
		})
		if err != nil {
			if errors.Is(err, commit.ErrNoWriteAccess) {
				return errors.New("no write access: provide a token (DAKBENCH_GITHUB_TOKEN) and drop --read-only")
			}
			return err
		}

		for _, fr := range result.Files {
			switch {
			case fr.Err == nil && fr.Created:
				fmt.Printf("  created %s (commit %.8s)\n", fr.Path, fr.CommitSHA)
			case fr.Err == nil:
				fmt.Printf("  updated %s (commit %.8s)\n", fr.Path, fr.CommitSHA)
			case fr.Conflict():
				fmt.Printf("  CONFLICT %s: upstream changed since staging, re-fetch and re-stage\n", fr.Path)
			default:
				fmt.Printf("  FAILED %s: %v\n", fr.Path, fr.Err)
			}
		}
		fmt.Printf("save %s: %d committed, %d failed on %s\n",
			result.AttemptID, result.Succeeded, result.Failed, key)

		if result.Failed > 0 {
			return fmt.Errorf("%d file(s) failed to commit", result.Failed)
		}
		return nil
	},
}

// watchCmd follows foreign writes to the same session
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for staging changes made by other dakbench processes",
	Long: `Subscribes to the session's revision signals and reloads the local
view whenever another process persists a newer revision. Runs until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, key, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.Staging.SignalsDir == "" {
			return errors.New("signals_dir is not configured, cross-process watching is disabled")
		}

		unsubscribe := mgr.AddListener(func(s staging.Session) {
			fmt.Printf("reloaded at revision %d: %d file(s) staged\n", s.Revision, len(s.Files))
		})
		defer unsubscribe()

		signalsDir := cfg.Staging.SignalsDir
		if !filepath.IsAbs(signalsDir) {
			signalsDir = filepath.Join(workspace, signalsDir)
		}
		watcher, err := watch.NewWatcher(signalsDir, key.String(), st.WriterID(), mgr)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Stop()

		fmt.Printf("watching %s, Ctrl-C to stop\n", key)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		stats := watcher.GetStats()
		logger.Info("watcher finished",
			zap.Int("signals", stats.SignalsSeen),
			zap.Int("reloads", stats.ReloadsOK))
		return nil
	},
}

func printReport(report validation.Report) {
	fmt.Printf("validation: %d error(s), %d warning(s), %d info\n",
		report.Errors, report.Warnings, report.Infos)
	for path, issues := range report.Files {
		for _, issue := range issues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, path, issue.Message)
		}
	}
}

func init() {
	saveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "commit message (default: pending session message)")
	saveCmd.Flags().BoolVar(&saveReadOnly, "read-only", false, "refuse to write upstream (permission gate)")
}
