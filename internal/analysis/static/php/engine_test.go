// Filename: php/engine_test.go
package php

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scenarioRules() *RuleSet {
	return &RuleSet{
		Sources: []SourceRule{{Kind: "request_host", Patterns: []string{"HOST_VAR"}}},
		Sinks:   []SinkRule{{Name: "redirect", Patterns: []string{"emit_redirect("}}},
		Sanitizers: []SanitizerRule{
			{Name: "allowlist_check", Patterns: []string{"allowlist_check("}},
		},
	}
}

func newTestEngine(t *testing.T, rules *RuleSet) *Engine {
	t.Helper()
	return NewEngine(zap.NewNop(), rules, Options{})
}

func findingsOfKind(findings []Finding, kind FindingKind) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Scenario A: a host assignment flowing into a redirect call.
func TestEngine_SourceToSinkFlow(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "HOST_VAR", Line: 1}},
		Calls:       []Call{{Callee: "emit_redirect", Args: []string{"host"}, Line: 2}},
	}

	engine := newTestEngine(t, scenarioRules())
	findings := engine.Analyze(facts, "app.php")

	sources := findingsOfKind(findings, FindingSource)
	require.Len(t, sources, 1)
	assert.Equal(t, 1, sources[0].Line)
	assert.Equal(t, "request_host", sources[0].RuleName)

	sinks := findingsOfKind(findings, FindingSink)
	require.Len(t, sinks, 1)
	sink := sinks[0]
	assert.Equal(t, 2, sink.Line)
	assert.Equal(t, "redirect", sink.RuleName)
	assert.Equal(t, SeverityHigh, sink.Severity)
	assert.Equal(t, StateAbsoluteURLPath, sink.SecurityState)
	assert.Equal(t, "emit_redirect", sink.SinkCallee)
	assert.Equal(t, []string{"host"}, sink.TaintedArguments)

	require.NotEmpty(t, sink.SourceRecords)
	foundOrigin := false
	for _, rec := range sink.SourceRecords {
		if rec.Label == "host" && rec.Line == 1 {
			foundOrigin = true
		}
	}
	assert.True(t, foundOrigin, "sink must reference the line 1 source record")

	require.GreaterOrEqual(t, len(sink.Trace), 2, "trace holds the sources then the sink")
	assert.Contains(t, sink.Trace[len(sink.Trace)-1], "emit_redirect")
}

// The classic plain PHP redirect sink, end to end through the tokenizer and
// fact builder under the built-in rules.
func TestEngine_HeaderLocationRedirectDetected(t *testing.T) {
	t.Parallel()

	source := "<?php\n$host = $_SERVER['HTTP_HOST'];\nheader('Location: https://' . $host);\n"
	facts := BuildFacts(Tokenize(source))

	engine := newTestEngine(t, DefaultRuleSet())
	findings := engine.Analyze(facts, "redirect.php")

	sources := findingsOfKind(findings, FindingSource)
	require.Len(t, sources, 1)
	assert.Equal(t, 2, sources[0].Line)
	assert.Equal(t, "request_host", sources[0].RuleName)

	sinks := findingsOfKind(findings, FindingSink)
	require.Len(t, sinks, 1)
	sink := sinks[0]
	assert.Equal(t, 3, sink.Line)
	assert.Equal(t, "redirect", sink.RuleName)
	assert.Equal(t, SeverityHigh, sink.Severity)
	assert.Equal(t, "header", sink.SinkCallee)
	require.Len(t, sink.TaintedArguments, 1)
	assert.Contains(t, sink.TaintedArguments[0], "$host")
}

// Scenario B: a sanitizer annotates the flow but never suppresses the sink.
func TestEngine_SanitizerAnnotatesWithoutSuppressing(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "HOST_VAR", Line: 1}},
		Calls: []Call{
			{Callee: "allowlist_check", Args: []string{"host"}, Line: 2},
			{Callee: "emit_redirect", Args: []string{"host"}, Line: 3},
		},
	}

	engine := newTestEngine(t, scenarioRules())
	findings := engine.Analyze(facts, "app.php")

	sinks := findingsOfKind(findings, FindingSink)
	require.Len(t, sinks, 1, "sanitizers annotate, they do not suppress")

	apps := sinks[0].SanitizerApplications
	require.Len(t, apps, 1)
	assert.Equal(t, "allowlist_check", apps[0].Name)
	assert.Equal(t, 2, apps[0].Line)
	assert.Equal(t, "app.php", apps[0].File)
}

// Scenario C: a tainted concatenation part creates the synthetic label but no
// standalone source finding.
func TestEngine_ConcatenationSeedsLabelWithoutFinding(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Concatenations: []Concatenation{{Parts: []string{"'prefix'", "HOST_VAR"}, Line: 3}},
	}

	engine := newTestEngine(t, scenarioRules())
	findings := engine.Analyze(facts, "app.php")

	assert.Empty(t, findings, "concatenation sources emit no standalone finding")

	// The label must still exist and propagate: an assignment referencing it
	// downstream becomes tainted and reaches a sink.
	facts2 := &FactSet{
		Concatenations: []Concatenation{{Parts: []string{"'prefix'", "HOST_VAR"}, Line: 3}},
		Assignments:    []Assignment{{Variable: "url", RHS: "build(concat_3)", Line: 4}},
		Calls:          []Call{{Callee: "emit_redirect", Args: []string{"url"}, Line: 5}},
	}
	findings2 := engine.Analyze(facts2, "app.php")
	sinks := findingsOfKind(findings2, FindingSink)
	require.Len(t, sinks, 1)

	foundConcat := false
	for _, rec := range sinks[0].SourceRecords {
		for _, up := range rec.Upstream {
			if up.Label == "concat_3" && up.Level == TaintHigh {
				foundConcat = true
			}
		}
		if rec.Label == "concat_3" {
			foundConcat = true
		}
	}
	assert.True(t, foundConcat, "concat_3 must carry high taint through the chain")
}

// Boundary: substring containment intentionally over-matches sink names.
func TestEngine_SinkNameOverMatching(t *testing.T) {
	t.Parallel()

	rules := &RuleSet{
		Sources: []SourceRule{{Kind: "request_host", Patterns: []string{"HOST_VAR"}}},
		Sinks:   []SinkRule{{Name: "redirect", Patterns: []string{"redirect"}}},
	}
	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "HOST_VAR", Line: 1}},
		Calls:       []Call{{Callee: "redirectLoopGuard", Args: []string{"host"}, Line: 2}},
	}

	engine := newTestEngine(t, rules)
	sinks := findingsOfKind(engine.Analyze(facts, "app.php"), FindingSink)

	require.Len(t, sinks, 1)
	assert.Equal(t, "redirectLoopGuard", sinks[0].SinkCallee)
	assert.Equal(t, "redirect", sinks[0].RuleName)
}

func TestEngine_EmptySourceRulesYieldNoFindings(t *testing.T) {
	t.Parallel()

	rules := &RuleSet{
		Sinks: []SinkRule{{Name: "redirect", Patterns: []string{"emit_redirect("}}},
	}
	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "HOST_VAR", Line: 1}},
		Calls:       []Call{{Callee: "emit_redirect", Args: []string{"host"}, Line: 2}},
	}

	engine := newTestEngine(t, rules)
	assert.Empty(t, engine.Analyze(facts, "app.php"))
}

func TestEngine_EmptyRuleSetYieldsNoFindings(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, &RuleSet{})
	facts := buildFromSource("<?php $host = $_SERVER['HTTP_HOST']; redirect($host);")
	assert.Empty(t, engine.Analyze(facts, "app.php"))
}

func TestEngine_AnalyzeIsIdempotent(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "host", RHS: "HOST_VAR", Line: 1},
			{Variable: "url", RHS: "'https://'.host", Line: 2},
		},
		Calls:     []Call{{Callee: "emit_redirect", Args: []string{"url"}, Line: 3}},
		Functions: []FunctionDecl{{Name: "helper", Params: []string{"$x"}, Line: 10}},
	}

	engine := newTestEngine(t, scenarioRules())
	first := engine.Analyze(facts, "app.php")
	second := engine.Analyze(facts, "app.php")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated analysis must be identical (-first +second):\n%s", diff)
	}
}

func TestEngine_ChainedPropagationThroughClosure(t *testing.T) {
	t.Parallel()

	// v0 is seeded; v1..v5 form a chain resolvable only by iterating the
	// reference graph.
	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "v5", RHS: "wrap(v4)", Line: 6},
			{Variable: "v4", RHS: "wrap(v3)", Line: 5},
			{Variable: "v3", RHS: "wrap(v2)", Line: 4},
			{Variable: "v2", RHS: "wrap(v1)", Line: 3},
			{Variable: "v1", RHS: "wrap(v0)", Line: 2},
			{Variable: "v0", RHS: "HOST_VAR", Line: 1},
		},
		Calls: []Call{{Callee: "emit_redirect", Args: []string{"v5"}, Line: 7}},
	}

	engine := newTestEngine(t, scenarioRules())
	sinks := findingsOfKind(engine.Analyze(facts, "app.php"), FindingSink)

	require.Len(t, sinks, 1)
	assert.Equal(t, []string{"v5"}, sinks[0].TaintedArguments)
}

func TestEngine_ClosureTerminatesOnCycles(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "a", RHS: "b", Line: 1},
			{Variable: "b", RHS: "a", Line: 2},
			{Variable: "c", RHS: "HOST_VAR", Line: 3},
		},
	}

	engine := newTestEngine(t, scenarioRules())
	// Must return despite the a<->b cycle.
	findings := engine.Analyze(facts, "app.php")
	require.Len(t, findingsOfKind(findings, FindingSource), 1)
}

func TestEngine_IterationCapBoundsDeepChains(t *testing.T) {
	t.Parallel()

	// A chain deeper than the cap, ordered worst case (each round resolves
	// one link). Zero padded names avoid accidental substring overlap between
	// labels. Under-tainting past the cap is accepted behavior.
	depth := 20
	var assignments []Assignment
	for i := depth; i >= 1; i-- {
		assignments = append(assignments, Assignment{
			Variable: fmt.Sprintf("x%02d", i),
			RHS:      fmt.Sprintf("wrap(x%02d)", i-1),
			Line:     i + 1,
		})
	}
	assignments = append(assignments, Assignment{Variable: "x00", RHS: "HOST_VAR", Line: 1})

	facts := &FactSet{
		Assignments: assignments,
		Calls:       []Call{{Callee: "emit_redirect", Args: []string{fmt.Sprintf("x%02d", depth)}, Line: depth + 2}},
	}

	engine := NewEngine(zap.NewNop(), scenarioRules(), Options{MaxPropagationRounds: 3})
	sinks := findingsOfKind(engine.Analyze(facts, "deep.php"), FindingSink)
	assert.Empty(t, sinks, "chain deeper than the cap stays under-tainted")

	uncapped := NewEngine(zap.NewNop(), scenarioRules(), Options{MaxPropagationRounds: depth + 2})
	sinks = findingsOfKind(uncapped.Analyze(facts, "deep.php"), FindingSink)
	assert.Len(t, sinks, 1, "a sufficient cap resolves the chain")
}

func TestEngine_NonSanitizerCallSynthesizesReturnLabel(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "host", RHS: "HOST_VAR", Line: 1},
			// References the synthetic transform_return label.
			{Variable: "built", RHS: "transform_return", Line: 3},
		},
		Calls: []Call{
			{Callee: "transform", Args: []string{"host"}, Line: 2},
			{Callee: "emit_redirect", Args: []string{"built"}, Line: 4},
		},
	}

	engine := newTestEngine(t, scenarioRules())
	sinks := findingsOfKind(engine.Analyze(facts, "app.php"), FindingSink)

	require.Len(t, sinks, 1)
	var levels []TaintLevel
	for _, rec := range sinks[0].SourceRecords {
		levels = append(levels, rec.Level)
	}
	assert.Contains(t, levels, TaintMedium, "call return taint is medium confidence")
}

func TestEngine_MalformedFactsTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "", RHS: "HOST_VAR", Line: 1},
			{Variable: "host", RHS: "HOST_VAR", Line: 2},
		},
		Calls: []Call{
			{Callee: "", Args: []string{"host"}, Line: 3},
			{Callee: "emit_redirect", Args: nil, Line: 4},
		},
	}

	engine := newTestEngine(t, scenarioRules())
	findings := engine.Analyze(facts, "app.php")

	assert.Len(t, findingsOfKind(findings, FindingSource), 1)
	assert.Empty(t, findingsOfKind(findings, FindingSink), "a sink with no tainted argument emits nothing")
}

func TestEngine_UnknownRuleKindStillRecorded(t *testing.T) {
	t.Parallel()

	rules := &RuleSet{
		Sources: []SourceRule{{Kind: "", Patterns: []string{"HOST_VAR"}}},
	}
	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "HOST_VAR", Line: 1}},
	}

	engine := newTestEngine(t, rules)
	sources := findingsOfKind(engine.Analyze(facts, "app.php"), FindingSource)

	require.Len(t, sources, 1)
	assert.Equal(t, ProvenanceUnknown, sources[0].RuleName)
}

func TestEngine_StrictIdentifierMode(t *testing.T) {
	t.Parallel()

	facts := &FactSet{
		Assignments: []Assignment{
			{Variable: "host", RHS: "HOST_VAR", Line: 1},
			// "hostname" contains "host" as a substring but not as an identifier.
			{Variable: "other", RHS: "hostname", Line: 2},
		},
		Calls: []Call{{Callee: "emit_redirect", Args: []string{"other"}, Line: 3}},
	}

	loose := newTestEngine(t, scenarioRules())
	assert.Len(t, findingsOfKind(loose.Analyze(facts, "app.php"), FindingSink), 1,
		"default containment mode over-propagates by design")

	strict := NewEngine(zap.NewNop(), scenarioRules(), Options{StrictIdentifiers: true})
	assert.Empty(t, findingsOfKind(strict.Analyze(facts, "app.php"), FindingSink),
		"strict mode requires identifier boundaries")
}

func TestEngine_ProxyHeaderSourceState(t *testing.T) {
	t.Parallel()

	rules := &RuleSet{
		Sources: []SourceRule{{Kind: "proxy_header", Patterns: []string{"X-Forwarded-Host"}}},
	}
	facts := &FactSet{
		Assignments: []Assignment{{Variable: "host", RHS: "headers['X-Forwarded-Host']", Line: 1}},
	}

	engine := newTestEngine(t, rules)
	sources := findingsOfKind(engine.Analyze(facts, "app.php"), FindingSource)

	require.Len(t, sources, 1)
	assert.Equal(t, StateProxyMisconfig, sources[0].SecurityState)
}

func TestEngine_FunctionSummariesAndCallGraphPersist(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, scenarioRules())

	engine.Analyze(&FactSet{
		Functions: []FunctionDecl{{Name: "buildUrl", Params: []string{"$h"}, Line: 5}},
	}, "a.php")
	engine.Analyze(&FactSet{
		Calls: []Call{{Callee: "buildUrl", Args: []string{"$x"}, Line: 9}},
	}, "b.php")

	summary, ok := engine.Context().Summary("buildUrl")
	require.True(t, ok, "summaries persist across files")
	assert.Equal(t, "a.php", summary.File)
	assert.False(t, summary.TaintsReturn, "baseline summaries are unpopulated placeholders")

	var crossFile bool
	for _, edge := range engine.Context().Edges() {
		if edge.Callee == "buildUrl" && edge.File == "b.php" {
			crossFile = true
		}
	}
	assert.True(t, crossFile, "call graph accumulates across files")
}

func TestEngine_TaintsReturnSummaryIsPerPassBounded(t *testing.T) {
	t.Parallel()

	rules := scenarioRules()
	engine := newTestEngine(t, rules)

	// Populate a summary the way a future body analysis would.
	summary := engine.Context().EnsureSummary("currentHost", "lib.php", 3, nil)
	summary.TaintsReturn = true

	facts := &FactSet{
		Calls: []Call{
			{Callee: "currentHost", Args: nil, Line: 2},
			{Callee: "emit_redirect", Args: []string{"currentHost_return"}, Line: 3},
		},
	}

	// Return label synthesis runs after sink detection in the fixed step
	// order, so within one pass it cannot create a sink finding on its own.
	findings := engine.Analyze(facts, "app.php")
	assert.Empty(t, findingsOfKind(findings, FindingSink))

	// The pass stays idempotent with a populated summary in place.
	second := engine.Analyze(facts, "app.php")
	if diff := cmp.Diff(findings, second); diff != "" {
		t.Errorf("repeated analysis must be identical:\n%s", diff)
	}
}

func TestAnalyzerContext_MergeIsSerializedReduce(t *testing.T) {
	t.Parallel()

	a := NewAnalyzerContext()
	a.EnsureSummary("f", "a.php", 1, nil)
	a.AddEdge(CallEdge{Caller: "a.php", Callee: "g", File: "a.php", Line: 2})

	b := NewAnalyzerContext()
	b.EnsureSummary("f", "b.php", 9, nil)
	b.EnsureSummary("g", "b.php", 3, nil)
	b.AddEdge(CallEdge{Caller: "b.php", Callee: "f", File: "b.php", Line: 4})

	a.Merge(b)

	f, ok := a.Summary("f")
	require.True(t, ok)
	assert.Equal(t, "a.php", f.File, "first registration wins on merge")

	_, ok = a.Summary("g")
	assert.True(t, ok)
	assert.Len(t, a.Edges(), 2)
	assert.ElementsMatch(t, []string{"f", "g"}, a.SummaryNames())
}
