// Filename: php/facts.go
// Single forward pass over the token stream producing a flattened, partial
// syntactic model. The builder is deliberately not a parser: it captures only
// top level assignments, calls, concatenations, declarations and returns, and
// skips declaration and control flow bodies by depth counting.
package php

import "strings"

// Assignment records `variable = <rhs>` at statement position. The variable
// text includes any bracketed subscript access ($_SERVER['HTTP_HOST']).
type Assignment struct {
	Variable string
	RHS      string
	Line     int
}

// Call records `callee(arg, ...)` with each argument flattened to one span.
type Call struct {
	Callee string
	Args   []string
	Line   int
}

// Concatenation records a statement level `.` operator as a 2-part fact built
// from the single tokens adjacent to the operator.
type Concatenation struct {
	Parts []string
	Line  int
}

// FunctionDecl records a function's name and parameter variables. The body is
// skipped and contributes no facts.
type FunctionDecl struct {
	Name   string
	Params []string
	Line   int
}

// ClassDecl records a class, interface or trait name. The body is skipped.
type ClassDecl struct {
	Name string
	Line int
}

// ReturnStatement records the flattened text of a return value.
type ReturnStatement struct {
	Value string
	Line  int
}

// FactSet is the per file output of one builder pass. It is created once,
// handed to the engine, and discarded.
type FactSet struct {
	Assignments    []Assignment
	Calls          []Call
	Concatenations []Concatenation
	Functions      []FunctionDecl
	Classes        []ClassDecl
	Returns        []ReturnStatement
}

// passMode makes the capture-versus-skip traversal state explicit. The
// builder captures facts only in captureMode; declaration and control flow
// bodies run in skipMode and contribute nothing.
type passMode int

const (
	captureMode passMode = iota
	skipMode
)

// controlKeywords introduce bodies that are structurally skipped.
var controlKeywords = map[string]bool{
	"if": true, "else": true, "elseif": true,
	"while": true, "for": true, "foreach": true,
	"switch": true, "do": true,
	"try": true, "catch": true, "finally": true,
}

// expression terminators for statement level variable scans.
func isTerminator(t *Token) bool {
	if t == nil {
		return true
	}
	switch t.Value {
	case "=", ";", ",", ")", "}":
		return true
	}
	return false
}

// BuildFacts runs the single forward pass. It never fails: unrecognized or
// partial constructs are skipped and whatever facts were recognized are
// returned. Identical token sequences always produce identical fact sets.
func BuildFacts(tokens []Token) *FactSet {
	b := &factBuilder{cursor: NewCursor(tokens), facts: &FactSet{}, mode: captureMode}
	b.run()
	return b.facts
}

type factBuilder struct {
	cursor *Cursor
	facts  *FactSet
	mode   passMode
}

func (b *factBuilder) run() {
	c := b.cursor
	for !c.AtEnd() {
		tok := c.Current()
		if tok == nil {
			return
		}

		switch {
		case tok.Kind == TokenKeyword && tok.Value == "function":
			b.handleFunctionDecl()
		case tok.Kind == TokenKeyword && (tok.Value == "class" || tok.Value == "interface" || tok.Value == "trait"):
			b.handleClassDecl(tok.Value)
		case tok.Kind == TokenKeyword && controlKeywords[tok.Value]:
			b.skipControlBody()
		case tok.Kind == TokenKeyword && tok.Value == "return":
			b.handleReturn()
		case tok.Kind == TokenVariable:
			b.handleVariableStatement()
		case tok.Kind == TokenIdentifier && b.nextIsOpenParen():
			b.handleCall()
		case tok.Kind == TokenOperator && tok.Value == ".":
			b.handleConcatenation()
		default:
			c.Advance()
		}
	}
}

func (b *factBuilder) nextIsOpenParen() bool {
	next := b.cursor.PeekNext()
	return next != nil && next.Value == "("
}

// handleFunctionDecl captures the declaration header and skips the body.
func (b *factBuilder) handleFunctionDecl() {
	c := b.cursor
	line := c.Current().Line
	c.Advance() // past "function"

	// Reference returning functions write `function &name`.
	if c.ValueEquals("&") {
		c.Advance()
	}

	tok := c.Current()
	if tok == nil || tok.Kind != TokenIdentifier {
		// Anonymous function or malformed header: skip a body if one follows.
		b.skipToBody()
		return
	}
	name := tok.Value
	c.Advance()

	var params []string
	if c.ValueEquals("(") {
		depth := 1
		c.Advance()
		for !c.AtEnd() && depth > 0 {
			t := c.Current()
			switch t.Value {
			case "(":
				depth++
			case ")":
				depth--
			default:
				if t.Kind == TokenVariable && depth == 1 {
					params = append(params, t.Value)
				}
			}
			c.Advance()
		}
	}

	b.facts.Functions = append(b.facts.Functions, FunctionDecl{Name: name, Params: params, Line: line})
	b.skipToBody()
}

// handleClassDecl captures the name and skips the whole body, including any
// methods. Body internal statements are intentionally absent from the model.
func (b *factBuilder) handleClassDecl(kind string) {
	c := b.cursor
	line := c.Current().Line
	c.Advance() // past the keyword

	tok := c.Current()
	if tok != nil && tok.Kind == TokenIdentifier {
		b.facts.Classes = append(b.facts.Classes, ClassDecl{Name: tok.Value, Line: line})
		c.Advance()
	}
	b.skipToBody()
}

// skipToBody advances to the next `{` at the current nesting and consumes the
// balanced braces in skipMode. A `;` before the brace ends the declaration
// without a body (abstract or interface members).
func (b *factBuilder) skipToBody() {
	c := b.cursor
	for !c.AtEnd() {
		t := c.Current()
		if t.Value == ";" {
			c.Advance()
			return
		}
		if t.Value == "{" {
			b.skipBraces()
			return
		}
		c.Advance()
	}
}

// skipBraces consumes a balanced `{...}` block starting at the open brace.
func (b *factBuilder) skipBraces() {
	c := b.cursor
	prev := b.mode
	b.mode = skipMode
	defer func() { b.mode = prev }()

	depth := 0
	for !c.AtEnd() {
		t := c.Current()
		switch t.Value {
		case "{":
			depth++
		case "}":
			depth--
			if depth <= 0 {
				c.Advance()
				return
			}
		}
		c.Advance()
	}
}

// skipControlBody consumes a control flow construct: the keyword, an optional
// parenthesized condition, and either a braced body or a single statement.
func (b *factBuilder) skipControlBody() {
	c := b.cursor
	c.Advance() // past the keyword

	if c.ValueEquals("(") {
		depth := 0
		for !c.AtEnd() {
			t := c.Current()
			if t.Value == "(" {
				depth++
			} else if t.Value == ")" {
				depth--
				if depth == 0 {
					c.Advance()
					break
				}
			}
			c.Advance()
		}
	}

	switch {
	case c.ValueEquals("{"):
		b.skipBraces()
	default:
		// Brace-less body: best effort skip to the end of the statement.
		for !c.AtEnd() && !c.ValueEquals(";") {
			if c.ValueEquals("{") {
				b.skipBraces()
				return
			}
			c.Advance()
		}
		if !c.AtEnd() {
			c.Advance()
		}
	}
}

func (b *factBuilder) handleReturn() {
	c := b.cursor
	line := c.Current().Line
	c.Advance()
	value := b.captureExpression()
	if value != "" {
		b.facts.Returns = append(b.facts.Returns, ReturnStatement{Value: value, Line: line})
	}
	if c.ValueEquals(";") {
		c.Advance()
	}
}

// handleVariableStatement scans a variable reference at statement position,
// extending across bracketed subscripts, and emits an Assignment when the
// scan stops at `=`. Any other terminator leaves the remaining tokens for the
// main dispatch (so method call statements still yield Call facts).
func (b *factBuilder) handleVariableStatement() {
	c := b.cursor
	line := c.Current().Line
	variable := b.captureVariableExpr()
	if variable == "" {
		c.Advance()
		return
	}

	if c.ValueEquals("=") {
		c.Advance()
		rhs := b.captureExpression()
		b.facts.Assignments = append(b.facts.Assignments, Assignment{Variable: variable, RHS: rhs, Line: line})
		if c.ValueEquals(";") {
			c.Advance()
		}
	}
}

// captureVariableExpr consumes a variable token plus any [subscript] chain
// and returns the flattened text.
func (b *factBuilder) captureVariableExpr() string {
	c := b.cursor
	tok := c.Current()
	if tok == nil || tok.Kind != TokenVariable {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(tok.Value)
	c.Advance()

	for c.ValueEquals("[") {
		depth := 0
		for !c.AtEnd() {
			t := c.Current()
			sb.WriteString(t.Value)
			if t.Value == "[" {
				depth++
			} else if t.Value == "]" {
				depth--
				if depth == 0 {
					c.Advance()
					break
				}
			}
			c.Advance()
		}
	}

	return sb.String()
}

// captureExpression flattens tokens into one text span until a terminator at
// paren and bracket depth zero. Token values are joined without separators so
// the span matches the source closely enough for substring rules.
func (b *factBuilder) captureExpression() string {
	c := b.cursor
	var sb strings.Builder
	parenDepth := 0
	bracketDepth := 0

	for !c.AtEnd() {
		t := c.Current()
		switch t.Value {
		case "(":
			parenDepth++
		case ")":
			if parenDepth == 0 {
				return sb.String()
			}
			parenDepth--
		case "[":
			bracketDepth++
		case "]":
			if bracketDepth > 0 {
				bracketDepth--
			}
		case ";", "}":
			if parenDepth == 0 && bracketDepth == 0 {
				return sb.String()
			}
		case ",":
			if parenDepth == 0 && bracketDepth == 0 {
				return sb.String()
			}
		}
		sb.WriteString(t.Value)
		c.Advance()
	}
	return sb.String()
}

// handleCall consumes `callee(...)` and emits a Call fact with each argument
// flattened to a single comma separated span.
func (b *factBuilder) handleCall() {
	c := b.cursor
	tok := c.Current()
	line := tok.Line
	callee := tok.Value
	c.Advance() // past identifier
	c.Advance() // past "("

	var args []string
	var sb strings.Builder
	depth := 1

	flush := func() {
		if sb.Len() > 0 {
			args = append(args, sb.String())
			sb.Reset()
		}
	}

	for !c.AtEnd() && depth > 0 {
		t := c.Current()
		switch t.Value {
		case "(":
			depth++
			sb.WriteString(t.Value)
		case ")":
			depth--
			if depth == 0 {
				flush()
				c.Advance()
				b.facts.Calls = append(b.facts.Calls, Call{Callee: callee, Args: args, Line: line})
				return
			}
			sb.WriteString(t.Value)
		case ",":
			if depth == 1 {
				flush()
			} else {
				sb.WriteString(t.Value)
			}
		default:
			sb.WriteString(t.Value)
		}
		c.Advance()
	}

	// Unbalanced parens: keep whatever was collected rather than fail.
	flush()
	b.facts.Calls = append(b.facts.Calls, Call{Callee: callee, Args: args, Line: line})
}

// handleConcatenation emits a 2-part fact from the tokens adjacent to a
// statement level `.` operator. This is a heuristic over single tokens, not
// expression evaluation.
func (b *factBuilder) handleConcatenation() {
	c := b.cursor
	tok := c.Current()
	prev := c.PeekPrevious()
	next := c.PeekNext()

	if prev != nil && next != nil {
		b.facts.Concatenations = append(b.facts.Concatenations, Concatenation{
			Parts: []string{prev.Value, next.Value},
			Line:  tok.Line,
		})
	}
	c.Advance()
}
