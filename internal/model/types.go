package model

import (
	"log/slog"
	"strings"
)

type RuleKind string

const (
	KindURLRewrite   RuleKind = "url-rewrite"
	KindHeaderModify RuleKind = "header-modify"
)

type Operation string

const (
	OperationSet    Operation = "set"
	OperationAppend Operation = "append"
	OperationRemove Operation = "remove"
)

type Target string

const (
	TargetRequest  Target = "request"
	TargetResponse Target = "response"
)

// EnvironmentVariable is a named value referenced from rules as {{name}}.
type EnvironmentVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RuleMeta carries the fields shared by every rule variant.
type RuleMeta struct {
	ID      string
	Name    string
	Enabled bool
}

// Rule is either a *URLRewriteRule or a *HeaderModifyRule.
type Rule interface {
	Kind() RuleKind
	Meta() RuleMeta
	isRule()
}

type URLRewriteRule struct {
	RuleMeta
	SourcePattern        string
	TargetTemplate       string
	PreserveOriginalHost bool
}

func (r *URLRewriteRule) Kind() RuleKind { return KindURLRewrite }
func (r *URLRewriteRule) Meta() RuleMeta { return r.RuleMeta }
func (r *URLRewriteRule) isRule()        {}

func (r *URLRewriteRule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("name", r.Name),
		slog.String("type", string(r.Kind())),
		slog.String("source", r.SourcePattern),
		slog.String("target", r.TargetTemplate),
	)
}

type HeaderModifyRule struct {
	RuleMeta
	URLPattern string
	Headers    []HeaderAction
}

func (r *HeaderModifyRule) Kind() RuleKind { return KindHeaderModify }
func (r *HeaderModifyRule) Meta() RuleMeta { return r.RuleMeta }
func (r *HeaderModifyRule) isRule()        {}

func (r *HeaderModifyRule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("name", r.Name),
		slog.String("type", string(r.Kind())),
		slog.String("url_pattern", r.URLPattern),
		slog.Int("headers", len(r.Headers)),
	)
}

// HeaderAction is a single header mutation. Value is ignored for remove.
type HeaderAction struct {
	Name      string
	Operation Operation
	Value     string
	Target    Target
}

func (h HeaderAction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("header", h.Name),
		slog.String("operation", string(h.Operation)),
		slog.String("target", string(h.Target)),
	)
}

// Group is an independently toggle-able collection of rules.
type Group struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Enabled bool    `json:"enabled"`
	Rules   RuleSet `json:"rules"`
}

// Flatten returns the enabled rules of enabled groups in authoring order.
// When no groups exist the enabled rules of the legacy flat list are used.
func Flatten(groups []*Group, legacy []Rule) []Rule {
	var out []Rule
	if len(groups) == 0 {
		for _, r := range legacy {
			if r != nil && r.Meta().Enabled {
				out = append(out, r)
			}
		}
		return out
	}
	for _, g := range groups {
		if g == nil || !g.Enabled {
			continue
		}
		for _, r := range g.Rules {
			if r != nil && r.Meta().Enabled {
				out = append(out, r)
			}
		}
	}
	return out
}

func normalizeKind(s string) RuleKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "url-rewrite", "urlrewrite", "redirect", "rewrite":
		return KindURLRewrite
	case "header-modify", "headermodify", "modify-headers", "headers":
		return KindHeaderModify
	default:
		return RuleKind(strings.ToLower(strings.TrimSpace(s)))
	}
}
