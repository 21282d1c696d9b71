// Package cli provides the command-line interface for the backlog synthesizer.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bmblack/backlog-synthesizer/internal/agents"
	"github.com/bmblack/backlog-synthesizer/internal/audit"
	"github.com/bmblack/backlog-synthesizer/internal/config"
	"github.com/bmblack/backlog-synthesizer/internal/db"
	"github.com/bmblack/backlog-synthesizer/internal/integrations"
	"github.com/bmblack/backlog-synthesizer/internal/llm"
	"github.com/bmblack/backlog-synthesizer/internal/memory"
	"github.com/bmblack/backlog-synthesizer/internal/metrics"
	"github.com/bmblack/backlog-synthesizer/internal/retry"
	"github.com/bmblack/backlog-synthesizer/internal/tracker"
	"github.com/bmblack/backlog-synthesizer/internal/workflow"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configFile string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error

	// Lazy-initialized shared clients
	dbClient *db.Client
	auditLog *audit.Log
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "backlog-synthesizer",
	Short: "Turn meeting transcripts into a JIRA-ready backlog",
	Long: `Backlog-synthesizer reads meeting transcripts and stakeholder interview
notes, extracts structured requirements with an LLM, checks them against the
existing JIRA backlog for coverage, and writes estimable user stories for
whatever is genuinely new. Stories wait at a human approval gate before
anything is filed.

Every run is checkpointed and fully audited, so a paused or interrupted run
can be resumed and every LLM call accounted for.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if configFile != "" {
			var err error
			cfg, err = config.LoadFile(cfg, configFile)
			if err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if auditLog != nil {
			if err := auditLog.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close audit log: %v\n", err)
			}
		}
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// connectDB establishes the SurrealDB connection and schema on first use.
func connectDB(ctx context.Context) error {
	if dbClient != nil {
		return nil
	}

	var err error
	dbClient, err = db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// openAudit opens the SQLite audit log on first use.
func openAudit() error {
	if auditLog != nil {
		return nil
	}

	var err error
	auditLog, err = audit.Open(cfg.AuditDBPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	return nil
}

// buildEngine wires the full pipeline. Commands that run or resume workflows
// pass their effective auto-approve setting.
func buildEngine(ctx context.Context, autoApprove bool) (*workflow.Engine, error) {
	if err := connectDB(ctx); err != nil {
		return nil, err
	}
	if err := openAudit(); err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	model, err := llm.NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}

	collector := metrics.NewCollector()
	index := memory.NewEngine(dbClient, embedder, collector, logger)

	wcfg := workflow.Config{
		Extractor:      agents.NewAnalyst(model, nil, retry.DefaultConfig(), collector, logger),
		StoryGenerator: agents.NewStoryWriter(model, 0, retry.DefaultConfig(), collector, logger),
		Tracker:        tracker.NewClient(cfg, collector, logger),
		Index:          index,
		Gaps:           memory.NewGapDetector(index, cfg.GapThreshold, logger),
		Checkpointer:   workflow.NewDBCheckpointer(dbClient),
		Audit:          auditLog,
		AutoApprove:    autoApprove,
		Logger:         logger,
	}
	if docs := integrations.NewConfluenceFetcher(cfg, logger); docs != nil {
		wcfg.Docs = docs
	}

	return workflow.NewEngine(wcfg), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backlog-synthesizer %s\n", Version)
	},
}
