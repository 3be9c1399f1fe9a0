// Package php provides static taint analysis for server side PHP sources.
// This file implements the lexical tokenizer and the cursor used by the
// fact builder to navigate the token stream.
package php

// TokenKind is the lexical category of a token.
type TokenKind string

const (
	TokenIdentifier TokenKind = "identifier"
	TokenVariable   TokenKind = "variable" // $name, including superglobals
	TokenOperator   TokenKind = "operator"
	TokenKeyword    TokenKind = "keyword"
	TokenString     TokenKind = "string" // value keeps the surrounding quotes
	TokenNumber     TokenKind = "number"
	TokenPunct      TokenKind = "punct"
	TokenOther      TokenKind = "other"
)

// Token is a single lexical unit with its 1-indexed source line.
type Token struct {
	Kind  TokenKind
	Value string
	Line  int
}

// keywords are the reserved words the fact builder dispatches on. Anything
// else scans as a plain identifier.
var keywords = map[string]bool{
	"function": true, "class": true, "interface": true, "trait": true,
	"return": true, "if": true, "else": true, "elseif": true,
	"while": true, "for": true, "foreach": true, "switch": true,
	"do": true, "try": true, "catch": true, "finally": true,
	"echo": true, "new": true, "use": true, "namespace": true,
	"public": true, "private": true, "protected": true, "static": true,
	"abstract": true, "final": true, "extends": true, "implements": true,
}

// multiCharOps are matched longest-first before single character operators.
var multiCharOps = []string{
	"===", "!==", "<=>", "**=", "...",
	"==", "!=", "<=", ">=", "&&", "||", "->", "=>", "::",
	".=", "+=", "-=", "*=", "/=", "??", "++", "--", "<<", ">>",
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Tokenize converts raw source text into an ordered token sequence.
// It performs no semantic validation; unrecognized bytes become TokenOther
// and malformed constructs (unterminated strings or comments) yield whatever
// partial stream the scan produced.
func Tokenize(source string) []Token {
	var tokens []Token
	line := 1
	i := 0
	n := len(source)

	emit := func(kind TokenKind, value string) {
		tokens = append(tokens, Token{Kind: kind, Value: value, Line: line})
	}

	for i < n {
		c := source[i]

		switch {
		case c == '\n':
			line++
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue
		}

		// PHP open/close tags are structural noise for this analysis.
		if c == '<' && i+1 < n && source[i+1] == '?' {
			i += 2
			if i+3 <= n && source[i:i+3] == "php" {
				i += 3
			}
			continue
		}
		if c == '?' && i+1 < n && source[i+1] == '>' {
			i += 2
			continue
		}

		// Line comments.
		if c == '#' || (c == '/' && i+1 < n && source[i+1] == '/') {
			for i < n && source[i] != '\n' {
				i++
			}
			continue
		}
		// Block comments.
		if c == '/' && i+1 < n && source[i+1] == '*' {
			i += 2
			for i < n {
				if source[i] == '\n' {
					line++
				} else if source[i] == '*' && i+1 < n && source[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
			continue
		}

		// Variable references, e.g. $host or $_SERVER.
		if c == '$' && i+1 < n && isIdentStart(source[i+1]) {
			start := i
			i++
			for i < n && isIdentPart(source[i]) {
				i++
			}
			emit(TokenVariable, source[start:i])
			continue
		}

		// Identifiers and keywords.
		if isIdentStart(c) {
			start := i
			for i < n && isIdentPart(source[i]) {
				i++
			}
			word := source[start:i]
			if keywords[word] {
				emit(TokenKeyword, word)
			} else {
				emit(TokenIdentifier, word)
			}
			continue
		}

		// Numbers.
		if isDigit(c) {
			start := i
			for i < n && (isDigit(source[i]) || source[i] == '.' || source[i] == 'x' ||
				(source[i] >= 'a' && source[i] <= 'f') || (source[i] >= 'A' && source[i] <= 'F')) {
				i++
			}
			emit(TokenNumber, source[start:i])
			continue
		}

		// String literals. The value keeps its quotes so downstream substring
		// matching sees the literal exactly as written.
		if c == '\'' || c == '"' {
			quote := c
			start := i
			i++
			for i < n {
				if source[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				if source[i] == '\n' {
					line++
				}
				if source[i] == quote {
					i++
					break
				}
				i++
			}
			emit(TokenString, source[start:i])
			continue
		}

		// Multi-character operators, longest first.
		matched := false
		for _, op := range multiCharOps {
			if i+len(op) <= n && source[i:i+len(op)] == op {
				emit(TokenOperator, op)
				i += len(op)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		switch c {
		case '(', ')', '{', '}', '[', ']', ';', ',':
			emit(TokenPunct, string(c))
		case '=', '.', '+', '-', '*', '/', '<', '>', '!', '&', '|', '?', '%', '^', '~', '@', ':':
			emit(TokenOperator, string(c))
		default:
			emit(TokenOther, string(c))
		}
		i++
	}

	return tokens
}

// Cursor navigates a token sequence with save and restore support for
// backtracking.
type Cursor struct {
	tokens []Token
	pos    int
}

// NewCursor wraps a token slice in a cursor positioned at the start.
func NewCursor(tokens []Token) *Cursor {
	return &Cursor{tokens: tokens}
}

// Current returns the token under the cursor, or nil at end of stream.
func (c *Cursor) Current() *Token {
	if c.pos < 0 || c.pos >= len(c.tokens) {
		return nil
	}
	return &c.tokens[c.pos]
}

// PeekNext returns the token after the cursor without advancing.
func (c *Cursor) PeekNext() *Token {
	if c.pos+1 >= len(c.tokens) {
		return nil
	}
	return &c.tokens[c.pos+1]
}

// PeekPrevious returns the token before the cursor.
func (c *Cursor) PeekPrevious() *Token {
	if c.pos-1 < 0 || c.pos-1 >= len(c.tokens) {
		return nil
	}
	return &c.tokens[c.pos-1]
}

// Advance moves the cursor forward one token.
func (c *Cursor) Advance() {
	c.pos++
}

// AtEnd reports whether the cursor has consumed the whole stream.
func (c *Cursor) AtEnd() bool {
	return c.pos >= len(c.tokens)
}

// Pos returns the current position for later restoration.
func (c *Cursor) Pos() int {
	return c.pos
}

// SetPos restores a previously saved position.
func (c *Cursor) SetPos(pos int) {
	c.pos = pos
}

// IsKind reports whether the current token has the given kind.
func (c *Cursor) IsKind(kind TokenKind) bool {
	t := c.Current()
	return t != nil && t.Kind == kind
}

// ValueEquals reports whether the current token's value matches exactly.
func (c *Cursor) ValueEquals(value string) bool {
	t := c.Current()
	return t != nil && t.Value == value
}
