// File: internal/engine/pool.go
// Package engine runs the per file analysis pipeline across a worker pool.
// Each file gets an independent taint engine; the cross file contexts are
// folded together in a serialized reduce step once all workers finish.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/lancet-cli/internal/analysis/static/php"
	"github.com/xkilldash9x/lancet-cli/internal/discovery"
)

// FileResult is the analysis output for one source file.
type FileResult struct {
	Path     string
	Findings []php.Finding
}

// Pool coordinates parallel per file analysis.
type Pool struct {
	logger      *zap.Logger
	rules       *php.RuleSet
	opts        php.Options
	concurrency int
}

// NewPool creates a pool. Concurrency below one is treated as sequential.
func NewPool(logger *zap.Logger, rules *php.RuleSet, opts php.Options, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		logger:      logger.Named("analysis_pool"),
		rules:       rules,
		opts:        opts,
		concurrency: concurrency,
	}
}

// Run analyzes every file and returns results in the input (path sorted)
// order together with the merged cross file context. The context error is
// returned if the run is cancelled mid flight; results for files analyzed
// before cancellation are still returned.
func (p *Pool) Run(ctx context.Context, files []discovery.SourceFile) ([]FileResult, *php.AnalyzerContext, error) {
	started := time.Now()

	results := make([]FileResult, len(files))
	engines := make([]*php.Engine, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			eng := php.NewEngine(p.logger, p.rules, p.opts)
			engines[i] = eng

			tokens := php.Tokenize(file.Content)
			facts := php.BuildFacts(tokens)
			findings := eng.Analyze(facts, file.Path)

			results[i] = FileResult{Path: file.Path, Findings: findings}
			return nil
		})
	}

	runErr := g.Wait()

	// Serialized reduce of the cross file state, in file order.
	project := php.NewAnalyzerContext()
	for _, eng := range engines {
		if eng != nil {
			project.Merge(eng.Context())
		}
	}

	var total int
	for _, r := range results {
		total += len(r.Findings)
	}
	p.logger.Info("Analysis pool finished",
		zap.Int("files", len(files)),
		zap.Int("findings", total),
		zap.Int("concurrency", p.concurrency),
		zap.Duration("duration", time.Since(started)),
	)

	return results, project, runErr
}
