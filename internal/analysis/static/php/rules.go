// Filename: php/rules.go
// Definitions of the source, sink and sanitizer pattern groups, the default
// host header poisoning rules, and the fixed sink classification tables.
package php

import "strings"

// SourceRule names a kind of untrusted input and the substring patterns that
// identify it in expression text.
type SourceRule struct {
	Kind     string   `mapstructure:"kind" json:"kind"`
	Patterns []string `mapstructure:"patterns" json:"patterns"`
}

// SinkRule names a security sensitive operation and its patterns.
type SinkRule struct {
	Name     string   `mapstructure:"name" json:"name"`
	Patterns []string `mapstructure:"patterns" json:"patterns"`
}

// SanitizerRule names a guard whose application is recorded, never enforced.
type SanitizerRule struct {
	Name     string   `mapstructure:"name" json:"name"`
	Patterns []string `mapstructure:"patterns" json:"patterns"`
}

// RuleSet is the immutable rule input for one run. Matching is case
// sensitive substring containment against expression or callee text.
type RuleSet struct {
	Sources    []SourceRule    `mapstructure:"sources" json:"sources"`
	Sinks      []SinkRule      `mapstructure:"sinks" json:"sinks"`
	Sanitizers []SanitizerRule `mapstructure:"sanitizers" json:"sanitizers"`
}

// SecurityState is the coarse consequence category of a finding.
type SecurityState string

const (
	StateSafe            SecurityState = "SAFE"
	StateProxyMisconfig  SecurityState = "PROXY_MISCONFIG"
	StateAbsoluteURLPath SecurityState = "ABS_URL_BUILD"
	StateSideEffect      SecurityState = "SIDE_EFFECT"
)

// Severity of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// sinkStates maps a sink rule name to its security state. Unlisted names
// default to SIDE_EFFECT.
var sinkStates = map[string]SecurityState{
	"redirect":           StateAbsoluteURLPath,
	"cors":               StateAbsoluteURLPath,
	"cookie_domain":      StateAbsoluteURLPath,
	"absolute_url_build": StateAbsoluteURLPath,
	"template_href":      StateSideEffect,
	"email_link":         StateSideEffect,
	"logging":            StateSideEffect,
	"config_generation":  StateSideEffect,
}

// sinkSeverities partitions sink rule names by impact. Unlisted names are low.
var sinkSeverities = map[string]Severity{
	"redirect":           SeverityHigh,
	"cors":               SeverityHigh,
	"cookie_domain":      SeverityHigh,
	"absolute_url_build": SeverityHigh,
	"template_href":      SeverityMedium,
	"email_link":         SeverityMedium,
}

// StateForSink returns the security state for a sink rule name.
func StateForSink(name string) SecurityState {
	if s, ok := sinkStates[name]; ok {
		return s
	}
	return StateSideEffect
}

// SeverityForSink returns the severity for a sink rule name.
func SeverityForSink(name string) Severity {
	if s, ok := sinkSeverities[name]; ok {
		return s
	}
	return SeverityLow
}

// proxyHeaderMarkers identify origin patterns that indicate the host value
// came through a reverse proxy header rather than the request line.
var proxyHeaderMarkers = []string{"X-Forwarded", "X_FORWARDED", "FORWARDED"}

// StateForSource classifies a source finding: forwarded-header origins point
// at proxy misconfiguration, everything else is a plain source marker.
func StateForSource(originPattern string) SecurityState {
	for _, m := range proxyHeaderMarkers {
		if strings.Contains(originPattern, m) {
			return StateProxyMisconfig
		}
	}
	return StateSafe
}

// matchText reports the first pattern of the list contained in text.
func matchText(text string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p != "" && strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

// MatchSource returns the first source rule and pattern matching the text.
func (rs *RuleSet) MatchSource(text string) (SourceRule, string, bool) {
	for _, rule := range rs.Sources {
		if p, ok := matchText(text, rule.Patterns); ok {
			return rule, p, true
		}
	}
	return SourceRule{}, "", false
}

// MatchSanitizer tests a callee against the sanitizer patterns. The callee is
// matched as written in call position, with its opening paren appended.
func (rs *RuleSet) MatchSanitizer(callee string) (SanitizerRule, bool) {
	text := callee + "("
	for _, rule := range rs.Sanitizers {
		if _, ok := matchText(text, rule.Patterns); ok {
			return rule, true
		}
	}
	return SanitizerRule{}, false
}

// MatchSinks returns every sink rule matching the reconstructed call text,
// callee plus flattened arguments, so a pattern may span the callee and its
// first argument (`header('Location`). Over-matching by substring (a pattern
// "redirect" matching a callee "redirectLoopGuard") is intended behavior.
func (rs *RuleSet) MatchSinks(callee string, args []string) []SinkRule {
	callText := callee + "(" + strings.Join(args, ",")
	var matched []SinkRule
	for _, rule := range rs.Sinks {
		if _, ok := matchText(callText, rule.Patterns); ok {
			matched = append(matched, rule)
		}
	}
	return matched
}

// DefaultRuleSet returns the built-in host header poisoning rules for common
// PHP frameworks (Laravel, Symfony, WordPress and plain PHP).
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Sources: []SourceRule{
			{Kind: "request_host", Patterns: []string{
				"$_SERVER['HTTP_HOST']", "$_SERVER[\"HTTP_HOST\"]", "HTTP_HOST",
			}},
			{Kind: "server_name", Patterns: []string{
				"$_SERVER['SERVER_NAME']", "SERVER_NAME",
			}},
			{Kind: "framework_method", Patterns: []string{
				"getHost(", "getHttpHost(", "getSchemeAndHttpHost(", "fullUrl(",
			}},
			{Kind: "proxy_header", Patterns: []string{
				"X-Forwarded-Host", "HTTP_X_FORWARDED_HOST",
			}},
		},
		Sinks: []SinkRule{
			{Name: "redirect", Patterns: []string{
				"redirect(", "wp_safe_redirect(", "wp_redirect(", "RedirectResponse",
				"header('Location", "header(\"Location",
			}},
			{Name: "cors", Patterns: []string{
				"Access-Control-Allow-Origin",
			}},
			{Name: "cookie_domain", Patterns: []string{
				"setcookie(", "setrawcookie(",
			}},
			{Name: "absolute_url_build", Patterns: []string{
				"url(", "route(", "generateUrl(", "home_url(", "site_url(",
				"wp_login_url(", "network_site_url(",
			}},
			{Name: "template_href", Patterns: []string{
				"href=", "src=",
			}},
			{Name: "email_link", Patterns: []string{
				"mail(", "wp_mail(",
			}},
			{Name: "logging", Patterns: []string{
				"error_log(", "log_message(", "syslog(",
			}},
			{Name: "config_generation", Patterns: []string{
				"file_put_contents(", "fwrite(",
			}},
		},
		Sanitizers: []SanitizerRule{
			{Name: "filter_var", Patterns: []string{"filter_var("}},
			{Name: "htmlspecialchars", Patterns: []string{"htmlspecialchars("}},
			{Name: "strip_tags", Patterns: []string{"strip_tags("}},
			{Name: "preg_replace", Patterns: []string{"preg_replace("}},
			{Name: "allowlist_check", Patterns: []string{"in_array(", "allowlist_check("}},
			{Name: "validate", Patterns: []string{"validate("}},
			{Name: "sanitize", Patterns: []string{"sanitize(", "esc_url("}},
		},
	}
}
