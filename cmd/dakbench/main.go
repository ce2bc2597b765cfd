package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dakbench/internal/config"
	"dakbench/internal/logging"
	"dakbench/internal/staging"
	"dakbench/internal/store"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	repoFlag   string
	branchFlag string

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dakbench",
	Short: "dakbench - staging ground for WHO SMART Guidelines DAK repositories",
	Long: `dakbench maintains a local staging ground of uncommitted edits to a
Digital Adaptation Kit (DAK) repository hosted on GitHub.

Edits are staged locally, validated per artifact type (FSH, CQL, BPMN, DMN,
YAML, JSON, XML), and committed back through the GitHub contents API. Staged
state survives restarts and is shared between concurrent dakbench processes
working on the same repository and branch.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}

		path := configPath
		if path == "" {
			path = filepath.Join(workspace, ".dakbench", "config.yaml")
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// sessionKey resolves the repository/branch context from flags.
func sessionKey() (staging.SessionKey, error) {
	parts := strings.SplitN(repoFlag, "/", 2)
	if repoFlag == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return staging.SessionKey{}, fmt.Errorf("--repo must be owner/name, got %q", repoFlag)
	}
	branch := branchFlag
	if branch == "" {
		branch = "main"
	}
	return staging.SessionKey{Owner: parts[0], Repo: parts[1], Branch: branch}, nil
}

// resolvePath makes a workspace-relative path absolute for the filesystem
// while keeping the repository-relative form for staging.
func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// openStaging opens the persistence store and binds a manager to the session
// from the --repo/--branch flags. The caller must Close the store.
func openStaging() (*staging.Manager, *store.Store, staging.SessionKey, error) {
	key, err := sessionKey()
	if err != nil {
		return nil, nil, key, err
	}

	dbPath := cfg.Staging.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	signalsDir := cfg.Staging.SignalsDir
	if signalsDir != "" && !filepath.IsAbs(signalsDir) {
		signalsDir = filepath.Join(workspace, signalsDir)
	}

	st, err := store.NewStore(dbPath, signalsDir)
	if err != nil {
		return nil, nil, key, fmt.Errorf("failed to open staging store: %w", err)
	}

	mgr := staging.NewManager(st)
	if res := mgr.Initialize(key); !res.Ok() {
		st.Close()
		return nil, nil, key, fmt.Errorf("failed to initialize session: %w", res.Err())
	}
	return mgr, st, key, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <workspace>/.dakbench/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoFlag, "repo", "r", "", "target repository as owner/name")
	rootCmd.PersistentFlags().StringVarP(&branchFlag, "branch", "b", "", "target branch (default: main)")

	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(unstageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
