// Filename: php/helpers.go
package php

import (
	"fmt"
	"strings"
)

// LocationInfo holds the location of a finding or trace step.
type LocationInfo struct {
	File string
	Line int
}

func (l LocationInfo) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// extractVariableRefs scans flattened expression text for variable reference
// spans, extending each across a bracketed subscript chain so forms like
// $_SERVER['HTTP_HOST'] survive as one reference.
func extractVariableRefs(text string) []string {
	var refs []string
	i := 0
	n := len(text)

	for i < n {
		if text[i] != '$' || i+1 >= n || !isIdentStart(text[i+1]) {
			i++
			continue
		}

		start := i
		i++
		for i < n && isIdentPart(text[i]) {
			i++
		}

		// Extend across [ ... ] subscripts.
		for i < n && text[i] == '[' {
			depth := 0
			j := i
			for j < n {
				if text[j] == '[' {
					depth++
				} else if text[j] == ']' {
					depth--
					if depth == 0 {
						j++
						break
					}
				}
				j++
			}
			if depth != 0 {
				break
			}
			i = j
		}

		refs = append(refs, text[start:i])
	}

	return refs
}

// referencesLabel reports whether the text references a tainted label. The
// default mode is plain substring containment, the deliberate approximation
// this analysis is built on. Strict mode additionally requires identifier
// boundaries around the occurrence.
func referencesLabel(text, label string, strict bool) bool {
	if label == "" {
		return false
	}
	if !strict {
		return strings.Contains(text, label)
	}

	for idx := 0; ; {
		rel := strings.Index(text[idx:], label)
		if rel < 0 {
			return false
		}
		at := idx + rel
		before := byte(0)
		if at > 0 {
			before = text[at-1]
		}
		after := byte(0)
		if at+len(label) < len(text) {
			after = text[at+len(label)]
		}
		if !isIdentPart(before) && before != '$' && !isIdentPart(after) {
			return true
		}
		idx = at + 1
	}
}

// formatTraceStep renders one record as a trace entry.
func formatTraceStep(rec *TaintRecord) string {
	origin := rec.OriginPattern
	if origin == "" {
		origin = rec.ProvenanceKind
	}
	return fmt.Sprintf("%s: %s <- %s (%s)", LocationInfo{File: rec.File, Line: rec.Line}, rec.Label, origin, rec.Level)
}
