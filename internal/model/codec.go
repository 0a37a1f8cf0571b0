package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type wireHeader struct {
	Name      string `json:"name" validate:"required"`
	Operation string `json:"operation" validate:"required,oneof=set append remove"`
	Value     string `json:"value,omitempty"`
	Target    string `json:"target,omitempty" validate:"omitempty,oneof=request response"`
}

type wireRule struct {
	ID      string `json:"id"`
	Type    string `json:"type" validate:"required,oneof=url-rewrite header-modify"`
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	SourcePattern        string `json:"sourcePattern,omitempty" validate:"required_if=Type url-rewrite"`
	TargetTemplate       string `json:"targetTemplate,omitempty" validate:"required_if=Type url-rewrite"`
	PreserveOriginalHost bool   `json:"preserveOriginalHost,omitempty"`

	URLPattern string       `json:"urlPattern,omitempty" validate:"required_if=Type header-modify"`
	Headers    []wireHeader `json:"headers,omitempty" validate:"dive"`
}

func (w *wireRule) toRule() (Rule, error) {
	w.Type = string(normalizeKind(w.Type))
	for i := range w.Headers {
		w.Headers[i].Operation = strings.ToLower(strings.TrimSpace(w.Headers[i].Operation))
		w.Headers[i].Target = strings.ToLower(strings.TrimSpace(w.Headers[i].Target))
	}
	if err := validate.Struct(w); err != nil {
		return nil, err
	}

	meta := RuleMeta{ID: w.ID, Name: w.Name, Enabled: w.Enabled == nil || *w.Enabled}
	switch RuleKind(w.Type) {
	case KindURLRewrite:
		return &URLRewriteRule{
			RuleMeta:             meta,
			SourcePattern:        w.SourcePattern,
			TargetTemplate:       w.TargetTemplate,
			PreserveOriginalHost: w.PreserveOriginalHost,
		}, nil
	case KindHeaderModify:
		headers := make([]HeaderAction, 0, len(w.Headers))
		for _, h := range w.Headers {
			target := TargetRequest
			if h.Target != "" {
				target = Target(h.Target)
			}
			headers = append(headers, HeaderAction{
				Name:      strings.TrimSpace(h.Name),
				Operation: Operation(h.Operation),
				Value:     h.Value,
				Target:    target,
			})
		}
		return &HeaderModifyRule{RuleMeta: meta, URLPattern: w.URLPattern, Headers: headers}, nil
	}
	return nil, fmt.Errorf("unknown rule type %q", w.Type)
}

func fromRule(r Rule) wireRule {
	meta := r.Meta()
	enabled := meta.Enabled
	w := wireRule{ID: meta.ID, Type: string(r.Kind()), Name: meta.Name, Enabled: &enabled}
	switch v := r.(type) {
	case *URLRewriteRule:
		w.SourcePattern = v.SourcePattern
		w.TargetTemplate = v.TargetTemplate
		w.PreserveOriginalHost = v.PreserveOriginalHost
	case *HeaderModifyRule:
		w.URLPattern = v.URLPattern
		for _, h := range v.Headers {
			w.Headers = append(w.Headers, wireHeader{
				Name:      h.Name,
				Operation: string(h.Operation),
				Value:     h.Value,
				Target:    string(h.Target),
			})
		}
	}
	return w
}

// RuleSet is a list of rules with a tagged JSON encoding. Entries that fail
// validation are logged and left out on decode.
type RuleSet []Rule

func (rs RuleSet) MarshalJSON() ([]byte, error) {
	wire := make([]wireRule, 0, len(rs))
	for _, r := range rs {
		if r == nil {
			continue
		}
		wire = append(wire, fromRule(r))
	}
	return json.Marshal(wire)
}

func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse rules JSON: %w", err)
	}
	out := make(RuleSet, 0, len(raw))
	for i, msg := range raw {
		var w wireRule
		if err := json.Unmarshal(msg, &w); err != nil {
			slog.Warn("Invalid rule", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		r, err := w.toRule()
		if err != nil {
			slog.Warn("Invalid rule", slog.Int("index", i), slog.String("id", w.ID), slog.Any("error", err))
			continue
		}
		out = append(out, r)
	}
	*rs = out
	return nil
}
