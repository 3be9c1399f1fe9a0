package schemas

import (
	"encoding/json"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of a security finding. The values
// are lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// Rank orders severities for threshold comparisons; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Finding encapsulates one reported result of a scan. It maps directly to
// the `findings` table in the database.
type Finding struct {
	ID     string `json:"id"`
	ScanID string `json:"scan_id"`

	// ObservedAt is the timestamp when the finding was produced.
	ObservedAt time.Time `json:"observed_at"`

	// Target is the file path the finding points at, with the 1-indexed line.
	Target string `json:"target"`
	Line   int    `json:"line"`

	// Module names the analysis module that reported the finding.
	Module string `json:"module"`

	// VulnerabilityName is the descriptive rule name (e.g. "Host Header
	// Poisoning via redirect").
	VulnerabilityName string `json:"vulnerability_name"`

	Severity    Severity `json:"severity"`
	Description string   `json:"description"`

	// Evidence carries the structured taint evidence, stored as JSONB.
	Evidence json.RawMessage `json:"evidence,omitempty"`

	Recommendation string   `json:"recommendation"`
	CWE            []string `json:"cwe,omitempty"`
}

// -- Taint Evidence Schemas --

// TaintSourceRecord is the serializable form of one taint record in the
// evidence chain.
type TaintSourceRecord struct {
	Label         string `json:"label"`
	Provenance    string `json:"provenance"`
	OriginPattern string `json:"origin_pattern,omitempty"`
	File          string `json:"file"`
	Line          int    `json:"line"`
	Level         string `json:"level"`
}

// SanitizerRecord is one recorded sanitizer application on the flow.
type SanitizerRecord struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// TaintEvidence is the structured evidence attached to a finding.
type TaintEvidence struct {
	Kind             string              `json:"kind"` // "source" or "sink"
	RuleName         string              `json:"rule_name"`
	SecurityState    string              `json:"security_state"`
	SinkCallee       string              `json:"sink_callee,omitempty"`
	TaintedArguments []string            `json:"tainted_arguments,omitempty"`
	Sources          []TaintSourceRecord `json:"sources,omitempty"`
	Sanitizers       []SanitizerRecord   `json:"sanitizers,omitempty"`
	Trace            []string            `json:"trace,omitempty"`
	Framework        string              `json:"framework,omitempty"`
}

// -- Result Envelope --

// ScanSummary aggregates per run statistics for reporting.
type ScanSummary struct {
	Target        string        `json:"target"`
	Framework     string        `json:"framework,omitempty"`
	FilesScanned  int           `json:"files_scanned"`
	FilesSkipped  int           `json:"files_skipped"`
	SourceCount   int           `json:"source_count"`
	SinkCount     int           `json:"sink_count"`
	Duration      time.Duration `json:"duration"`
	StartedAt     time.Time     `json:"started_at"`
	RulesetOrigin string        `json:"ruleset_origin"` // "default" or the rules file path
}

// ResultEnvelope bundles the findings of one scan for reporters and the
// store.
type ResultEnvelope struct {
	ScanID   string      `json:"scan_id"`
	Summary  ScanSummary `json:"summary"`
	Findings []Finding   `json:"findings"`
}
