package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dakbench/internal/github"
)

var stageTool string

// stageCmd stages local files into the session overlay
var stageCmd = &cobra.Command{
	Use:   "stage [path...]",
	Short: "Stage one or more files for commit",
	Long: `Reads workspace files and stages their content for the target
repository/branch. Paths are kept repository-relative. Re-staging a path
replaces its previous staged content entirely.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, key, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		for _, path := range args {
			data, err := os.ReadFile(resolvePath(path))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			meta := map[string]string{"tool": stageTool}
			res := mgr.UpdateFile(path, string(data), meta)
			if !res.Ok() {
				logger.Warn("staged in memory only, persistence failed",
					zap.String("path", path), zap.Error(res.Err()))
			}
			fmt.Printf("staged %s (%d bytes)\n", path, len(data))
		}

		snapshot := mgr.Snapshot()
		fmt.Printf("%d file(s) staged for %s\n", len(snapshot.Files), key)
		return nil
	},
}

// unstageCmd removes a path from the overlay
var unstageCmd = &cobra.Command{
	Use:   "unstage [path]",
	Short: "Remove a file from the staging ground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, _, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		before := len(mgr.Snapshot().Files)
		if res := mgr.RemoveFile(args[0]); !res.Ok() {
			return res.Err()
		}
		after := len(mgr.Snapshot().Files)
		if before == after {
			fmt.Printf("%s was not staged\n", args[0])
		} else {
			fmt.Printf("unstaged %s\n", args[0])
		}
		return nil
	},
}

var statusRemote bool

// statusCmd lists the staged overlay
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show staged files for the target repository/branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, key, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		snapshot := mgr.Snapshot()
		fmt.Printf("session %s (revision %d)\n", key, snapshot.Revision)
		if statusRemote {
			client := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Token, cfg.GitHubTimeout())
			branch, err := client.GetBranch(cmd.Context(), key.Owner, key.Repo, key.Branch)
			if err != nil {
				fmt.Printf("upstream: unavailable (%v)\n", err)
			} else {
				fmt.Printf("upstream: %s at %.8s", branch.Name, branch.CommitSHA)
				if branch.Protected {
					fmt.Print(" (protected)")
				}
				fmt.Println()
			}
		}
		if snapshot.Message != "" {
			fmt.Printf("pending message: %s\n", snapshot.Message)
		}
		if len(snapshot.Files) == 0 {
			fmt.Println("nothing staged")
			return nil
		}
		for _, f := range snapshot.Files {
			tool := f.Metadata["tool"]
			if tool == "" {
				tool = "-"
			}
			fmt.Printf("  %-50s %6d bytes  %s  (%s)\n",
				f.Path, len(f.Content), f.UpdatedAt.Format("2006-01-02 15:04:05"), tool)
		}
		return nil
	},
}

// lsCmd lists a directory of the upstream repository
var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List upstream repository contents at the target branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := sessionKey()
		if err != nil {
			return err
		}
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}

		client := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Token, cfg.GitHubTimeout())
		entries, err := client.ListContents(cmd.Context(), key.Owner, key.Repo, dir, key.Branch)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type == "dir" {
				fmt.Printf("  %s/\n", e.Path)
			} else {
				fmt.Printf("  %-50s %6d bytes\n", e.Path, e.Size)
			}
		}
		return nil
	},
}

// clearCmd drops the whole overlay
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all staged edits for the target repository/branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, key, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		n := len(mgr.Snapshot().Files)
		if res := mgr.Clear(); !res.Ok() {
			return res.Err()
		}
		fmt.Printf("cleared %d staged file(s) for %s\n", n, key)
		return nil
	},
}

// messageCmd sets the pending commit message
var messageCmd = &cobra.Command{
	Use:   "message [text]",
	Short: "Set the pending commit message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, st, _, err := openStaging()
		if err != nil {
			return err
		}
		defer st.Close()

		if res := mgr.SetMessage(args[0]); !res.Ok() {
			return res.Err()
		}
		fmt.Println("message set")
		return nil
	},
}

func init() {
	stageCmd.Flags().StringVar(&stageTool, "tool", "cli", "originating tool recorded in staged metadata")
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "also show the upstream branch head")
}
