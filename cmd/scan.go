package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
	"github.com/xkilldash9x/lancet-cli/internal/analysis/static/php"
	"github.com/xkilldash9x/lancet-cli/internal/config"
	"github.com/xkilldash9x/lancet-cli/internal/discovery"
	"github.com/xkilldash9x/lancet-cli/internal/engine"
	"github.com/xkilldash9x/lancet-cli/internal/observability"
	"github.com/xkilldash9x/lancet-cli/internal/reporting"
	"github.com/xkilldash9x/lancet-cli/internal/results"
	"github.com/xkilldash9x/lancet-cli/internal/store"
)

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Analyzes a PHP codebase for host header poisoning flows",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so the command line overrides
			// config file and environment values.
			if err := viper.BindPFlag("report.format", cmd.Flags().Lookup("format")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.output_path", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("scan.rules_file", cmd.Flags().Lookup("rules")); err != nil {
				return err
			}
			if err := viper.BindPFlag("scan.fail_on", cmd.Flags().Lookup("fail-on")); err != nil {
				return err
			}
			if err := viper.BindPFlag("analysis.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("analysis.strict_identifiers", cmd.Flags().Lookup("strict")); err != nil {
				return err
			}
			return viper.BindPFlag("database.enabled", cmd.Flags().Lookup("db"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-load now that the scan flags are bound.
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			cfg.Scan.Target = args[0]

			return runScan(ctx, cfg, logger)
		},
	}

	scanCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	scanCmd.Flags().StringP("format", "f", "sarif", "Report format ('sarif' or 'json').")
	scanCmd.Flags().String("rules", "", "Path to a custom rule set file. Defaults to the built-in rules.")
	scanCmd.Flags().String("fail-on", "", "Exit non-zero if findings at or above this severity exist ('high', 'medium', 'low').")
	scanCmd.Flags().IntP("concurrency", "j", 0, "Number of files analyzed in parallel. (Overrides config/env)")
	scanCmd.Flags().Bool("strict", false, "Require identifier boundaries when matching taint labels.")
	scanCmd.Flags().Bool("db", false, "Persist the scan to PostgreSQL (requires database.dsn in config).")

	return scanCmd
}

// runScan drives one scan end to end: discovery, analysis, result building,
// optional persistence and reporting.
func runScan(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	scanID := uuid.New().String()
	startedAt := time.Now().UTC()

	rules, rulesOrigin, err := loadRuleSet(cfg.Scan.RulesFile)
	if err != nil {
		return err
	}

	logger.Info("Starting scan",
		zap.String("scan_id", scanID),
		zap.String("target", cfg.Scan.Target),
		zap.String("rules", rulesOrigin),
		zap.Int("concurrency", cfg.Analysis.Concurrency),
	)

	// 1. Discovery
	walker := discovery.NewWalker(logger, cfg.Analysis.Extensions, cfg.Analysis.ExcludeDirs)
	discovered, err := walker.Discover(cfg.Scan.Target)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	framework := discovery.DetectFramework(cfg.Scan.Target)
	logger.Info("Target discovered",
		zap.Int("files", len(discovered.Files)),
		zap.String("framework", string(framework)),
	)

	// 2. Analysis
	opts := php.Options{
		MaxPropagationRounds: cfg.Analysis.MaxPropagationRounds,
		StrictIdentifiers:    cfg.Analysis.StrictIdentifiers,
	}
	pool := engine.NewPool(logger, rules, opts, cfg.Analysis.Concurrency)
	fileResults, project, err := pool.Run(ctx, discovered.Files)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan aborted by user signal")
		}
		return fmt.Errorf("analysis failed: %w", err)
	}
	logger.Debug("Cross file context merged",
		zap.Int("functions", len(project.SummaryNames())),
		zap.Int("call_edges", len(project.Edges())),
	)

	// 3. Results
	pipeline := results.NewPipeline(logger)
	findings := pipeline.Build(scanID, framework, fileResults)
	sources, sinks := results.Summarize(findings)

	envelope := &schemas.ResultEnvelope{
		ScanID: scanID,
		Summary: schemas.ScanSummary{
			Target:        cfg.Scan.Target,
			Framework:     string(framework),
			FilesScanned:  len(discovered.Files),
			FilesSkipped:  discovered.Skipped,
			SourceCount:   sources,
			SinkCount:     sinks,
			Duration:      time.Since(startedAt),
			StartedAt:     startedAt,
			RulesetOrigin: rulesOrigin,
		},
		Findings: findings,
	}

	// 4. Optional persistence
	if cfg.Database.Enabled {
		if err := persistScan(ctx, cfg.Database, envelope, logger); err != nil {
			return err
		}
	}

	// 5. Reporting
	reporter, err := reporting.New(cfg.Report.Format, cfg.Report.OutputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(envelope); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	logger.Info("Scan complete",
		zap.String("scan_id", scanID),
		zap.Int("findings", len(findings)),
		zap.Int("sources", sources),
		zap.Int("sinks", sinks),
	)

	return checkFailOn(cfg.Scan.FailOn, findings)
}

// loadRuleSet returns the built-in rules or loads a custom rule file.
func loadRuleSet(path string) (*php.RuleSet, string, error) {
	if path == "" {
		return php.DefaultRuleSet(), "default", nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var rules php.RuleSet
	if err := v.Unmarshal(&rules); err != nil {
		return nil, "", fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return &rules, path, nil
}

// persistScan writes the envelope to PostgreSQL.
func persistScan(ctx context.Context, dbCfg config.DatabaseConfig, envelope *schemas.ResultEnvelope, logger *zap.Logger) error {
	connectCtx, cancel := context.WithTimeout(ctx, dbCfg.ConnectTimeout)
	defer cancel()

	dbPool, err := pgxpool.New(connectCtx, dbCfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	dbStore, err := store.New(connectCtx, dbPool, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}

	if err := dbStore.PersistScan(ctx, envelope); err != nil {
		return fmt.Errorf("failed to persist scan: %w", err)
	}

	logger.Info("Scan persisted", zap.String("scan_id", envelope.ScanID))
	return nil
}

// checkFailOn returns an error when findings meet the severity threshold.
func checkFailOn(failOn string, findings []schemas.Finding) error {
	threshold := schemas.Severity(strings.ToLower(failOn))
	if threshold.Rank() == 0 {
		return nil
	}

	var matching int
	for _, f := range findings {
		if f.Severity.Rank() >= threshold.Rank() {
			matching++
		}
	}
	if matching > 0 {
		return fmt.Errorf("%d finding(s) at or above severity %q", matching, threshold)
	}
	return nil
}
