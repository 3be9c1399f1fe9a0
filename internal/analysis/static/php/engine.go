// Filename: php/engine.go
// The taint engine: builds a variable reference graph from one file's facts,
// seeds taint from source rules, propagates to a bounded fixed point, detects
// sink matches and emits findings with reconstructed traces. Function
// summaries and the call graph persist across files for one engine run.
package php

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FindingKind distinguishes source markers from sink flows.
type FindingKind string

const (
	FindingSource FindingKind = "source"
	FindingSink   FindingKind = "sink"
)

// Finding is one analysis result. Sink findings carry the full evidence
// chain: tainted arguments, the contributing records, sanitizer applications
// on those records, and an ordered trace.
type Finding struct {
	Kind                  FindingKind
	File                  string
	Line                  int
	RuleName              string
	SecurityState         SecurityState
	Severity              Severity
	SinkCallee            string
	TaintedArguments      []string
	SourceRecords         []*TaintRecord
	SanitizerApplications []SanitizerApplication
	Trace                 []string
}

// DefaultIterationCap bounds the fixed point closure. Deep reference chains
// beyond the cap degrade to under-tainting, never to non-termination.
const DefaultIterationCap = 10

// Options tune the engine.
type Options struct {
	// MaxPropagationRounds caps the iterative closure. Zero means
	// DefaultIterationCap.
	MaxPropagationRounds int
	// StrictIdentifiers requires identifier boundaries around label
	// occurrences instead of plain substring containment.
	StrictIdentifiers bool
}

// Engine analyzes fact sets against one rule set. Per file taint state lives
// only inside Analyze; the shared context (summaries, call graph) lives as
// long as the engine. One engine must not run Analyze concurrently with
// itself; independent engines may run in parallel and merge contexts.
type Engine struct {
	logger *zap.Logger
	rules  *RuleSet
	opts   Options
	shared *AnalyzerContext
}

// NewEngine creates an engine with a fresh cross file context.
func NewEngine(logger *zap.Logger, rules *RuleSet, opts Options) *Engine {
	if opts.MaxPropagationRounds <= 0 {
		opts.MaxPropagationRounds = DefaultIterationCap
	}
	return &Engine{
		logger: logger.Named("taint_engine"),
		rules:  rules,
		opts:   opts,
		shared: NewAnalyzerContext(),
	}
}

// Context exposes the cross file state for serialized merging.
func (e *Engine) Context() *AnalyzerContext {
	return e.shared
}

// refEdge is one recorded variable reference edge. The flattened RHS text is
// kept alongside the extracted references because label matching is substring
// containment over the text, not identifier resolution.
type refEdge struct {
	variable string
	rhs      string
	refs     []string
	line     int
}

// Analyze runs the fixed pipeline over one file's facts and returns its
// findings. It has no error path: malformed facts are skipped and an empty
// rule set simply yields no findings.
func (e *Engine) Analyze(facts *FactSet, file string) []Finding {
	if facts == nil {
		return nil
	}

	state := newTaintState()
	var findings []Finding

	// Step 1: graph construction.
	edges := e.buildGraph(facts, file)

	// Step 2: source identification.
	findings = append(findings, e.identifySources(facts, file, state)...)

	// Step 3: direct propagation.
	e.propagateDirect(facts, file, state)

	// Step 4: iterative closure over the reference graph.
	e.closeOverGraph(edges, file, state)

	// Step 5: sink detection.
	findings = append(findings, e.detectSinks(facts, file, state)...)

	// Step 6: interprocedural pass.
	e.interprocedural(facts, file, state)

	e.logger.Debug("Analysis pass completed",
		zap.String("file", file),
		zap.Int("tainted_labels", len(state.tainted)),
		zap.Int("findings", len(findings)),
	)

	return findings
}

func (e *Engine) buildGraph(facts *FactSet, file string) []refEdge {
	var edges []refEdge
	for _, a := range facts.Assignments {
		if a.Variable == "" {
			continue
		}
		edges = append(edges, refEdge{
			variable: a.Variable,
			rhs:      a.RHS,
			refs:     extractVariableRefs(a.RHS),
			line:     a.Line,
		})
	}
	for _, call := range facts.Calls {
		if call.Callee == "" {
			continue
		}
		e.shared.AddEdge(CallEdge{Caller: file, Callee: call.Callee, Args: call.Args, File: file, Line: call.Line})
	}
	return edges
}

func normalizeKind(kind string) string {
	if kind == "" {
		return ProvenanceUnknown
	}
	return kind
}

func (e *Engine) identifySources(facts *FactSet, file string, state *taintState) []Finding {
	var findings []Finding

	for _, a := range facts.Assignments {
		if a.Variable == "" {
			continue
		}
		rule, pattern, ok := e.rules.MatchSource(a.RHS)
		if !ok {
			continue
		}
		rec, added := state.add(&TaintRecord{
			Label:          a.Variable,
			ProvenanceKind: normalizeKind(rule.Kind),
			OriginPattern:  pattern,
			Line:           a.Line,
			File:           file,
			Level:          TaintHigh,
		})
		if added {
			findings = append(findings, e.sourceFinding(rec))
		}
	}

	// Accessor style sources appearing directly in call arguments.
	for _, call := range facts.Calls {
		for _, arg := range call.Args {
			rule, pattern, ok := e.rules.MatchSource(arg)
			if !ok {
				continue
			}
			rec, added := state.add(&TaintRecord{
				Label:          arg,
				ProvenanceKind: normalizeKind(rule.Kind),
				OriginPattern:  pattern,
				Line:           call.Line,
				File:           file,
				Level:          TaintHigh,
			})
			if added {
				findings = append(findings, e.sourceFinding(rec))
			}
		}
	}

	// Concatenation parts seed a synthetic label but no standalone finding.
	for _, cc := range facts.Concatenations {
		for _, part := range cc.Parts {
			rule, pattern, ok := e.rules.MatchSource(part)
			if !ok {
				continue
			}
			state.add(&TaintRecord{
				Label:          fmt.Sprintf("concat_%d", cc.Line),
				ProvenanceKind: normalizeKind(rule.Kind),
				OriginPattern:  pattern,
				Line:           cc.Line,
				File:           file,
				Level:          TaintHigh,
			})
			break
		}
	}

	return findings
}

func (e *Engine) sourceFinding(rec *TaintRecord) Finding {
	return Finding{
		Kind:          FindingSource,
		File:          rec.File,
		Line:          rec.Line,
		RuleName:      rec.ProvenanceKind,
		SecurityState: StateForSource(rec.OriginPattern),
		Severity:      SeverityHigh,
		SourceRecords: []*TaintRecord{rec},
		Trace:         []string{formatTraceStep(rec)},
	}
}

// referencedRecords returns the tainted records whose labels the text
// references, in deterministic label order.
func (e *Engine) referencedRecords(text string, state *taintState) []*TaintRecord {
	var refs []*TaintRecord
	for _, label := range state.sortedLabels() {
		if referencesLabel(text, label, e.opts.StrictIdentifiers) {
			refs = append(refs, state.tainted[label])
		}
	}
	return refs
}

func upstreamLevel(refs []*TaintRecord) TaintLevel {
	for _, r := range refs {
		if r.Level == TaintHigh {
			return TaintHigh
		}
	}
	return TaintMedium
}

func (e *Engine) propagateDirect(facts *FactSet, file string, state *taintState) {
	for _, a := range facts.Assignments {
		if a.Variable == "" || state.isTainted(a.Variable) {
			continue
		}
		refs := e.referencedRecords(a.RHS, state)
		if len(refs) == 0 {
			continue
		}
		state.add(&TaintRecord{
			Label:          a.Variable,
			ProvenanceKind: ProvenancePropagated,
			Line:           a.Line,
			File:           file,
			Level:          upstreamLevel(refs),
			Upstream:       refs,
		})
	}

	for _, call := range facts.Calls {
		if call.Callee == "" {
			continue
		}
		var refs []*TaintRecord
		for _, arg := range call.Args {
			refs = append(refs, e.referencedRecords(arg, state)...)
		}
		refs = dedupeRecords(refs)
		if len(refs) == 0 {
			continue
		}

		if san, ok := e.rules.MatchSanitizer(call.Callee); ok {
			app := SanitizerApplication{Name: san.Name, Line: call.Line, File: file}
			for _, r := range refs {
				state.recordSanitizer(r.Label, app)
			}
			continue
		}

		state.add(&TaintRecord{
			Label:          call.Callee + "_return",
			ProvenanceKind: ProvenancePropagated,
			Line:           call.Line,
			File:           file,
			Level:          TaintMedium,
			Upstream:       refs,
		})
	}

	for _, cc := range facts.Concatenations {
		var refs []*TaintRecord
		for _, part := range cc.Parts {
			refs = append(refs, e.referencedRecords(part, state)...)
		}
		refs = dedupeRecords(refs)
		if len(refs) == 0 {
			continue
		}
		state.add(&TaintRecord{
			Label:          fmt.Sprintf("concat_%d", cc.Line),
			ProvenanceKind: ProvenancePropagated,
			Line:           cc.Line,
			File:           file,
			Level:          TaintHigh,
			Upstream:       refs,
		})
	}
}

// closeOverGraph repeats the assignment propagation rule over the whole
// reference graph until no label changes or the iteration cap is reached.
func (e *Engine) closeOverGraph(edges []refEdge, file string, state *taintState) {
	for round := 0; round < e.opts.MaxPropagationRounds; round++ {
		changed := false
		for _, edge := range edges {
			if state.isTainted(edge.variable) {
				continue
			}
			refs := dedupeRecords(e.referencedRecords(edge.rhs, state))
			if len(refs) == 0 {
				continue
			}
			state.add(&TaintRecord{
				Label:          edge.variable,
				ProvenanceKind: ProvenancePropagated,
				Line:           edge.line,
				File:           file,
				Level:          upstreamLevel(refs),
				Upstream:       refs,
			})
			changed = true
		}
		if !changed {
			return
		}
	}
	// Cap exhaustion is accepted as under-tainting, not an error.
	e.logger.Debug("Propagation cap reached", zap.String("file", file), zap.Int("cap", e.opts.MaxPropagationRounds))
}

func (e *Engine) detectSinks(facts *FactSet, file string, state *taintState) []Finding {
	var findings []Finding

	for _, call := range facts.Calls {
		if call.Callee == "" {
			continue
		}
		matched := e.rules.MatchSinks(call.Callee, call.Args)
		if len(matched) == 0 {
			continue
		}

		var taintedArgs []string
		var refs []*TaintRecord
		for _, arg := range call.Args {
			argRefs := e.referencedRecords(arg, state)
			if len(argRefs) == 0 {
				continue
			}
			taintedArgs = append(taintedArgs, arg)
			refs = append(refs, argRefs...)
		}
		refs = dedupeRecords(refs)
		if len(refs) == 0 {
			continue
		}

		labels := make([]string, len(refs))
		for i, r := range refs {
			labels[i] = r.Label
		}
		apps := state.applicationsFor(labels)

		trace := make([]string, 0, len(refs)+1)
		for _, r := range refs {
			trace = append(trace, formatTraceStep(r))
		}
		sinkStep := fmt.Sprintf("%s: sink %s(%s)", LocationInfo{File: file, Line: call.Line}, call.Callee, strings.Join(taintedArgs, ", "))
		trace = append(trace, sinkStep)

		for _, rule := range matched {
			findings = append(findings, Finding{
				Kind:                  FindingSink,
				File:                  file,
				Line:                  call.Line,
				RuleName:              rule.Name,
				SecurityState:         StateForSink(rule.Name),
				Severity:              SeverityForSink(rule.Name),
				SinkCallee:            call.Callee,
				TaintedArguments:      taintedArgs,
				SourceRecords:         refs,
				SanitizerApplications: apps,
				Trace:                 trace,
			})
		}
	}

	return findings
}

// interprocedural registers summary placeholders for declared functions and
// synthesizes return taint for call edges whose target summary is known to
// taint its return value. Summary population from body analysis is an
// extension point; placeholders keep this pass a safe no-op until then.
func (e *Engine) interprocedural(facts *FactSet, file string, state *taintState) {
	for _, fn := range facts.Functions {
		if fn.Name == "" {
			continue
		}
		e.shared.EnsureSummary(fn.Name, file, fn.Line, fn.Params)
	}

	for _, edge := range e.shared.Edges() {
		summary, ok := e.shared.Summary(edge.Callee)
		if !ok || !summary.TaintsReturn {
			continue
		}
		state.add(&TaintRecord{
			Label:          edge.Callee + "_return",
			ProvenanceKind: ProvenancePropagated,
			OriginPattern:  strings.Join(edge.Args, ","),
			Line:           edge.Line,
			File:           edge.File,
			Level:          TaintMedium,
		})
	}
}

func dedupeRecords(refs []*TaintRecord) []*TaintRecord {
	if len(refs) < 2 {
		return refs
	}
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r.Label] {
			continue
		}
		seen[r.Label] = true
		out = append(out, r)
	}
	return out
}
