// internal/results/enrich.go
package results

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
	"github.com/xkilldash9x/lancet-cli/internal/results/providers"
)

// Enricher enhances findings with additional context.
type Enricher struct {
	cweProvider providers.CWEProvider
	logger      *zap.Logger
}

// NewEnricher creates a new Enricher instance.
func NewEnricher(cweProvider providers.CWEProvider, logger *zap.Logger) *Enricher {
	return &Enricher{
		cweProvider: cweProvider,
		logger:      logger.Named("enricher"),
	}
}

// EnrichFinding enhances a single finding in place.
func (e *Enricher) EnrichFinding(finding *schemas.Finding) {
	e.enrichCWE(finding)
}

func (e *Enricher) enrichCWE(finding *schemas.Finding) {
	if len(finding.CWE) == 0 || e.cweProvider == nil {
		return
	}

	// Only the primary CWE drives enrichment.
	cweID := finding.CWE[0]

	entry, err := e.cweProvider.GetCWE(cweID)
	if err != nil {
		e.logger.Debug("Could not retrieve CWE details", zap.String("cwe_id", cweID), zap.Error(err))
		return
	}

	// Fill in gaps only; pipeline-assigned names and descriptions win.
	if finding.VulnerabilityName == "" && entry.Name != "" {
		finding.VulnerabilityName = entry.Name
	}
	if len(finding.Description) < 20 && entry.Description != "" {
		finding.Description = entry.Description
	}
}
