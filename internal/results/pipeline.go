// File: internal/results/pipeline.go
// Package results converts raw analysis findings into the report schema:
// stable IDs, vulnerability names, CWE assignment, serialized evidence and
// severity-ordered output.
package results

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
	"github.com/xkilldash9x/lancet-cli/internal/analysis/static/php"
	"github.com/xkilldash9x/lancet-cli/internal/discovery"
	"github.com/xkilldash9x/lancet-cli/internal/engine"
	"github.com/xkilldash9x/lancet-cli/internal/results/providers"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// AnalysisModule names the producing module on every finding.
const AnalysisModule = "static/php"

// sinkCWEs maps sink rule names to their primary weakness.
var sinkCWEs = map[string][]string{
	"redirect":           {"CWE-601"},
	"absolute_url_build": {"CWE-601"},
	"template_href":      {"CWE-601"},
	"cors":               {"CWE-346"},
	"cookie_domain":      {"CWE-644"},
	"email_link":         {"CWE-640"},
	"logging":            {"CWE-117"},
}

// sinkRecommendations maps sink rule names to remediation guidance.
var sinkRecommendations = map[string]string{
	"redirect":           "Validate the redirect target against an allowlist of trusted hosts before issuing the redirect.",
	"absolute_url_build": "Build absolute URLs from a configured canonical host instead of the incoming Host header.",
	"template_href":      "Render links from the configured application URL rather than request-derived host values.",
	"cors":               "Compare the request origin against an explicit allowlist; never echo host-derived values into CORS headers.",
	"cookie_domain":      "Set cookie domains from static configuration, not from request headers.",
	"email_link":         "Generate email links from the configured application URL so password reset flows cannot be poisoned.",
	"logging":            "Encode or strip header-derived values before writing them to logs.",
}

const defaultRecommendation = "Treat the Host header and forwarded host headers as untrusted input; derive authoritative host values from configuration."

// Pipeline turns engine output into report-ready findings.
type Pipeline struct {
	logger   *zap.Logger
	enricher *Enricher
}

// NewPipeline creates a results pipeline with the built-in CWE provider.
func NewPipeline(logger *zap.Logger) *Pipeline {
	cweProvider := providers.NewInMemoryCWEProvider()
	return &Pipeline{
		logger:   logger.Named("results_pipeline"),
		enricher: NewEnricher(cweProvider, logger),
	}
}

// Build converts per file engine results into schema findings: assigns IDs
// and timestamps, names the vulnerabilities, attaches structured evidence,
// enriches and sorts by severity. The input file order is the tiebreaker, so
// output is deterministic.
func (p *Pipeline) Build(scanID string, framework discovery.Framework, fileResults []engine.FileResult) []schemas.Finding {
	now := time.Now().UTC()
	findings := make([]schemas.Finding, 0)

	for _, fr := range fileResults {
		for _, raw := range fr.Findings {
			converted, err := p.convert(scanID, framework, raw, now)
			if err != nil {
				p.logger.Warn("Dropping unconvertible finding",
					zap.String("file", raw.File),
					zap.Int("line", raw.Line),
					zap.Error(err),
				)
				continue
			}
			p.enricher.EnrichFinding(&converted)
			findings = append(findings, converted)
		}
	}

	p.prioritize(findings)

	p.logger.Info("Results pipeline complete",
		zap.String("scan_id", scanID),
		zap.Int("findings", len(findings)),
	)
	return findings
}

// Summarize counts source and sink findings for the scan summary.
func Summarize(findings []schemas.Finding) (sources, sinks int) {
	for _, f := range findings {
		var ev schemas.TaintEvidence
		if err := jsonAPI.Unmarshal(f.Evidence, &ev); err != nil {
			continue
		}
		switch ev.Kind {
		case string(php.FindingSource):
			sources++
		case string(php.FindingSink):
			sinks++
		}
	}
	return sources, sinks
}

func (p *Pipeline) convert(scanID string, framework discovery.Framework, raw php.Finding, observed time.Time) (schemas.Finding, error) {
	evidence := schemas.TaintEvidence{
		Kind:             string(raw.Kind),
		RuleName:         raw.RuleName,
		SecurityState:    string(raw.SecurityState),
		SinkCallee:       raw.SinkCallee,
		TaintedArguments: raw.TaintedArguments,
		Trace:            raw.Trace,
		Framework:        string(framework),
	}
	for _, rec := range raw.SourceRecords {
		evidence.Sources = append(evidence.Sources, schemas.TaintSourceRecord{
			Label:         rec.Label,
			Provenance:    rec.ProvenanceKind,
			OriginPattern: rec.OriginPattern,
			File:          rec.File,
			Line:          rec.Line,
			Level:         string(rec.Level),
		})
	}
	for _, app := range raw.SanitizerApplications {
		evidence.Sanitizers = append(evidence.Sanitizers, schemas.SanitizerRecord{
			Name: app.Name,
			File: app.File,
			Line: app.Line,
		})
	}

	encoded, err := jsonAPI.Marshal(evidence)
	if err != nil {
		return schemas.Finding{}, fmt.Errorf("failed to encode evidence: %w", err)
	}

	return schemas.Finding{
		ID:                uuid.NewString(),
		ScanID:            scanID,
		ObservedAt:        observed,
		Target:            raw.File,
		Line:              raw.Line,
		Module:            AnalysisModule,
		VulnerabilityName: vulnerabilityName(raw),
		Severity:          mapSeverity(raw.Severity),
		Description:       describe(raw),
		Evidence:          encoded,
		Recommendation:    recommend(raw),
		CWE:               assignCWE(raw),
	}, nil
}

func vulnerabilityName(raw php.Finding) string {
	if raw.Kind == php.FindingSource {
		if raw.SecurityState == php.StateProxyMisconfig {
			return "Proxy-Forwarded Host Trusted"
		}
		return "Host Header Read"
	}
	return fmt.Sprintf("Host Header Poisoning via %s", raw.RuleName)
}

func describe(raw php.Finding) string {
	if raw.Kind == php.FindingSource {
		if raw.SecurityState == php.StateProxyMisconfig {
			return "The application reads a proxy-forwarded host header, which an attacker can set freely unless a trusted proxy strips it."
		}
		return "The application reads the request host, which is attacker-controlled unless validated against configuration."
	}

	switch raw.SecurityState {
	case php.StateAbsoluteURLPath:
		return fmt.Sprintf("A host-derived value reaches %s, which builds an absolute URL or redirect target from it.", raw.SinkCallee)
	default:
		return fmt.Sprintf("A host-derived value reaches %s, influencing generated content or side effects.", raw.SinkCallee)
	}
}

func recommend(raw php.Finding) string {
	if raw.Kind == php.FindingSink {
		if rec, ok := sinkRecommendations[raw.RuleName]; ok {
			return rec
		}
	}
	return defaultRecommendation
}

func assignCWE(raw php.Finding) []string {
	if raw.Kind == php.FindingSource {
		if raw.SecurityState == php.StateProxyMisconfig {
			return []string{"CWE-348"}
		}
		return []string{"CWE-20"}
	}
	if cwes, ok := sinkCWEs[raw.RuleName]; ok {
		return append([]string(nil), cwes...)
	}
	return []string{"CWE-644"}
}

func mapSeverity(s php.Severity) schemas.Severity {
	switch s {
	case php.SeverityHigh:
		return schemas.SeverityHigh
	case php.SeverityMedium:
		return schemas.SeverityMedium
	case php.SeverityLow:
		return schemas.SeverityLow
	default:
		return schemas.SeverityInfo
	}
}

// prioritize orders findings by severity, then by target and line for a
// stable report layout.
func (p *Pipeline) prioritize(findings []schemas.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Line < findings[j].Line
	})
}
