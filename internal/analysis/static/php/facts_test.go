// Filename: php/facts_test.go
package php

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildFromSource(src string) *FactSet {
	return BuildFacts(Tokenize(src))
}

func TestBuildFacts_AssignmentWithSubscript(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php\n$host = $_SERVER['HTTP_HOST'];\n")

	want := []Assignment{
		{Variable: "$host", RHS: "$_SERVER['HTTP_HOST']", Line: 2},
	}
	if diff := cmp.Diff(want, facts.Assignments); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_AssignmentFromMethodCall(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php $host = $request->getHost();")

	if len(facts.Assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %+v", facts.Assignments)
	}
	a := facts.Assignments[0]
	if a.Variable != "$host" {
		t.Errorf("unexpected variable %q", a.Variable)
	}
	// The flattened RHS must still contain the accessor pattern.
	if a.RHS != "$request->getHost()" {
		t.Errorf("unexpected RHS %q", a.RHS)
	}
}

func TestBuildFacts_CallArguments(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php redirect($host, 'https://' . $other, 302);")

	want := []Call{
		{Callee: "redirect", Args: []string{"$host", "'https://'.$other", "302"}, Line: 1},
	}
	if diff := cmp.Diff(want, facts.Calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_NestedCallArguments(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php wrap(inner($a, $b), $c);")

	if len(facts.Calls) != 1 {
		t.Fatalf("expected the outer call only, got %+v", facts.Calls)
	}
	call := facts.Calls[0]
	if call.Callee != "wrap" {
		t.Errorf("unexpected callee %q", call.Callee)
	}
	want := []string{"inner($a,$b)", "$c"}
	if diff := cmp.Diff(want, call.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_StatementLevelConcatenation(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php\n\n\n'prefix' . $host;\n")

	want := []Concatenation{
		{Parts: []string{"'prefix'", "$host"}, Line: 4},
	}
	if diff := cmp.Diff(want, facts.Concatenations); diff != "" {
		t.Errorf("concatenations mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_ConcatenationInsideAssignmentNotDuplicated(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php $url = 'https://' . $host;")

	if len(facts.Concatenations) != 0 {
		t.Errorf("RHS concatenation should be captured by the assignment, got %+v", facts.Concatenations)
	}
	if len(facts.Assignments) != 1 || facts.Assignments[0].RHS != "'https://'.$host" {
		t.Errorf("unexpected assignments %+v", facts.Assignments)
	}
}

func TestBuildFacts_FunctionDeclSkipsBody(t *testing.T) {
	t.Parallel()

	src := `<?php
function buildUrl($scheme, $host) {
    $leak = $_SERVER['HTTP_HOST'];
    return $scheme . $host;
}
$after = 1;
`
	facts := buildFromSource(src)

	wantFns := []FunctionDecl{
		{Name: "buildUrl", Params: []string{"$scheme", "$host"}, Line: 2},
	}
	if diff := cmp.Diff(wantFns, facts.Functions); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}

	// Body internal statements must not surface as facts.
	for _, a := range facts.Assignments {
		if a.Variable == "$leak" {
			t.Errorf("body assignment leaked into facts: %+v", a)
		}
	}
	if len(facts.Returns) != 0 {
		t.Errorf("body return leaked into facts: %+v", facts.Returns)
	}
	if len(facts.Assignments) != 1 || facts.Assignments[0].Variable != "$after" {
		t.Errorf("statement after the body was lost: %+v", facts.Assignments)
	}
}

func TestBuildFacts_ClassDeclSkipsBody(t *testing.T) {
	t.Parallel()

	src := `<?php
class UrlBuilder {
    public function build() {
        return url($_SERVER['HTTP_HOST']);
    }
}
$top = 2;
`
	facts := buildFromSource(src)

	if len(facts.Classes) != 1 || facts.Classes[0].Name != "UrlBuilder" {
		t.Fatalf("unexpected classes %+v", facts.Classes)
	}
	if len(facts.Calls) != 0 {
		t.Errorf("method body call leaked into facts: %+v", facts.Calls)
	}
	if len(facts.Assignments) != 1 || facts.Assignments[0].Variable != "$top" {
		t.Errorf("statement after the class was lost: %+v", facts.Assignments)
	}
}

func TestBuildFacts_ControlFlowBodiesExcluded(t *testing.T) {
	t.Parallel()

	src := `<?php
if ($cond) {
    $inner = $_SERVER['HTTP_HOST'];
}
$outer = $_SERVER['HTTP_HOST'];
`
	facts := buildFromSource(src)

	if len(facts.Assignments) != 1 || facts.Assignments[0].Variable != "$outer" {
		t.Errorf("expected only the top level assignment, got %+v", facts.Assignments)
	}
}

func TestBuildFacts_ReturnStatement(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php return $scheme . $host;")

	want := []ReturnStatement{{Value: "$scheme.$host", Line: 1}}
	if diff := cmp.Diff(want, facts.Returns); diff != "" {
		t.Errorf("returns mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_MethodCallStatementYieldsCall(t *testing.T) {
	t.Parallel()

	facts := buildFromSource("<?php $this->redirect($host);")

	if len(facts.Calls) != 1 || facts.Calls[0].Callee != "redirect" {
		t.Fatalf("expected a redirect call fact, got %+v", facts.Calls)
	}
	if diff := cmp.Diff([]string{"$host"}, facts.Calls[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFacts_MalformedInputNeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"<?php function",
		"<?php class {",
		"<?php $a = ",
		"<?php call($a, ",
		"<?php { } } ) ( ;;;",
		"<?php if (",
	}
	for _, src := range inputs {
		facts := buildFromSource(src)
		if facts == nil {
			t.Errorf("fact set must never be nil, input %q", src)
		}
	}
}

func TestBuildFacts_Deterministic(t *testing.T) {
	t.Parallel()

	src := "<?php $host = $_SERVER['HTTP_HOST']; redirect($host); 'a' . $host;"
	tokens := Tokenize(src)

	first := BuildFacts(tokens)
	second := BuildFacts(tokens)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical token sequences must produce identical fact sets:\n%s", diff)
	}
}
