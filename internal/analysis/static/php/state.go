// Filename: php/state.go
// The taint state model: per file taint records and the sanitizer multimap,
// plus the cross file function summaries and call graph shared by one engine
// run for the light interprocedural pass.
package php

import (
	"sort"
	"sync"
)

// TaintLevel grades confidence in a taint record.
type TaintLevel string

const (
	TaintHigh   TaintLevel = "high"
	TaintMedium TaintLevel = "medium"
)

// Provenance kinds for records not introduced directly by a source rule.
const (
	ProvenancePropagated = "propagated"
	ProvenanceUnknown    = "unknown"
)

// TaintRecord tracks one tainted label. Labels are variable texts or
// synthetic ids such as "concat_12" and "getHost_return", unique per file
// and analysis pass.
type TaintRecord struct {
	Label          string
	ProvenanceKind string
	OriginPattern  string
	Line           int
	File           string
	Level          TaintLevel
	Upstream       []*TaintRecord
}

// SanitizerApplication records that a sanitizer touched a tainted label. It
// never removes the underlying record.
type SanitizerApplication struct {
	Name string
	Line int
	File string
}

// taintState is the mutable per file state of one Analyze call. The tainted
// map is monotonic: labels are added, never removed, within a pass. The
// sanitized multimap is additive bookkeeping queried at finding emission.
type taintState struct {
	tainted   map[string]*TaintRecord
	sanitized map[string][]SanitizerApplication
}

func newTaintState() *taintState {
	return &taintState{
		tainted:   make(map[string]*TaintRecord),
		sanitized: make(map[string][]SanitizerApplication),
	}
}

// add inserts a record unless the label is already tainted. Returns the
// record now holding the label and whether the map changed.
func (s *taintState) add(rec *TaintRecord) (*TaintRecord, bool) {
	if existing, ok := s.tainted[rec.Label]; ok {
		return existing, false
	}
	s.tainted[rec.Label] = rec
	return rec, true
}

func (s *taintState) isTainted(label string) bool {
	_, ok := s.tainted[label]
	return ok
}

// sortedLabels returns tainted labels in deterministic order.
func (s *taintState) sortedLabels() []string {
	labels := make([]string, 0, len(s.tainted))
	for l := range s.tainted {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// recordSanitizer appends an application for the label.
func (s *taintState) recordSanitizer(label string, app SanitizerApplication) {
	s.sanitized[label] = append(s.sanitized[label], app)
}

// applicationsFor collects sanitizer applications whose label is in the set,
// in label order.
func (s *taintState) applicationsFor(labels []string) []SanitizerApplication {
	var apps []SanitizerApplication
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		apps = append(apps, s.sanitized[l]...)
	}
	return apps
}

// FunctionSummary describes the observable taint behavior of a declared
// function. Baseline analysis creates placeholders only; populating the
// flags from body analysis is an extension point.
type FunctionSummary struct {
	Name          string
	Params        []string
	File          string
	Line          int
	TaintsParams  map[int]bool
	TaintsReturn  bool
	CallsSinks    bool
	HasSanitizers bool
}

// NewFunctionSummary initializes a placeholder summary.
func NewFunctionSummary(name, file string, line int, params []string) *FunctionSummary {
	return &FunctionSummary{
		Name:         name,
		Params:       params,
		File:         file,
		Line:         line,
		TaintsParams: make(map[int]bool),
	}
}

// CallEdge is one call graph edge from an enclosing context to a callee.
// Callers at the top level of a file use the file path as context.
type CallEdge struct {
	Caller string
	Callee string
	Args   []string
	File   string
	Line   int
}

// AnalyzerContext holds the cross file state of one engine run: function
// summaries and the call graph. It outlives per file taint state and is safe
// for serialized merging after parallel per file analysis.
type AnalyzerContext struct {
	mu        sync.Mutex
	summaries map[string]*FunctionSummary
	edges     []CallEdge
}

// NewAnalyzerContext creates an empty cross file context.
func NewAnalyzerContext() *AnalyzerContext {
	return &AnalyzerContext{
		summaries: make(map[string]*FunctionSummary),
	}
}

// EnsureSummary registers a placeholder summary if the function is new and
// returns the summary holding the name.
func (ac *AnalyzerContext) EnsureSummary(name, file string, line int, params []string) *FunctionSummary {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if existing, ok := ac.summaries[name]; ok {
		return existing
	}
	s := NewFunctionSummary(name, file, line, params)
	ac.summaries[name] = s
	return s
}

// Summary looks up a summary by function name.
func (ac *AnalyzerContext) Summary(name string) (*FunctionSummary, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	s, ok := ac.summaries[name]
	return s, ok
}

// AddEdge appends a call graph edge.
func (ac *AnalyzerContext) AddEdge(edge CallEdge) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.edges = append(ac.edges, edge)
}

// Edges returns a copy of the call graph in insertion order.
func (ac *AnalyzerContext) Edges() []CallEdge {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	edges := make([]CallEdge, len(ac.edges))
	copy(edges, ac.edges)
	return edges
}

// SummaryNames returns declared function names in sorted order.
func (ac *AnalyzerContext) SummaryNames() []string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	names := make([]string, 0, len(ac.summaries))
	for n := range ac.summaries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge folds another context into this one. Used as the serialized reduce
// step after parallel per file analysis; first registration of a function
// name wins.
func (ac *AnalyzerContext) Merge(other *AnalyzerContext) {
	if other == nil || other == ac {
		return
	}
	other.mu.Lock()
	otherSummaries := make([]*FunctionSummary, 0, len(other.summaries))
	for _, s := range other.summaries {
		otherSummaries = append(otherSummaries, s)
	}
	otherEdges := make([]CallEdge, len(other.edges))
	copy(otherEdges, other.edges)
	other.mu.Unlock()

	sort.Slice(otherSummaries, func(i, j int) bool { return otherSummaries[i].Name < otherSummaries[j].Name })

	ac.mu.Lock()
	defer ac.mu.Unlock()
	for _, s := range otherSummaries {
		if _, ok := ac.summaries[s.Name]; !ok {
			ac.summaries[s.Name] = s
		}
	}
	ac.edges = append(ac.edges, otherEdges...)
}
