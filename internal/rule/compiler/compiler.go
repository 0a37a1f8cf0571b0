package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/variable"
)

// Priority bands. Every header rule sits below every URL rewrite.
const (
	HeaderPriority      = 1
	RewriteBasePriority = 1000
)

var ErrDuplicateID = errors.New("duplicate compiled rule id")

// PatternError reports a rule whose pattern or template cannot be used.
type PatternError struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("rule %s: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

type Input struct {
	Groups      []*model.Group
	LegacyRules []model.Rule
	Variables   *variable.Resolver
	Enabled     bool
	Limits      common.Limits
}

// Diagnostic describes a rule or header left out of the compiled set.
type Diagnostic struct {
	RuleID string
	Header string
	Err    error
}

func (d Diagnostic) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rule", d.RuleID),
		slog.String("header", d.Header),
		slog.Any("error", d.Err),
	)
}

type Result struct {
	Rules       []common.CompiledRule
	Origins     map[int]common.Origin
	Diagnostics []Diagnostic
}

type pending struct {
	rule   common.CompiledRule
	origin common.Origin
	// rules emitted from one source rule share a unit and are kept or
	// dropped together
	unit int
}

type compilation struct {
	vars   *variable.Resolver
	limits common.Limits
	out    []pending
	diags  []Diagnostic
	unit   int
}

// Compile turns the model into an engine ruleset. A bad rule is skipped
// with a diagnostic; only a broken id invariant fails the whole pass.
func Compile(in Input) (*Result, error) {
	res := &Result{Origins: map[int]common.Origin{}}
	if !in.Enabled {
		return res, nil
	}

	c := &compilation{vars: in.Variables, limits: in.Limits.Normalized()}

	var (
		rewrites []*model.URLRewriteRule
		headers  []*model.HeaderModifyRule
	)
	for _, r := range model.Flatten(in.Groups, in.LegacyRules) {
		switch v := r.(type) {
		case *model.URLRewriteRule:
			rewrites = append(rewrites, v)
		case *model.HeaderModifyRule:
			headers = append(headers, v)
		}
	}

	for _, r := range rewrites {
		c.unit++
		c.compileRewrite(r)
	}
	for _, r := range headers {
		c.unit++
		c.compileHeaders(r)
	}

	if len(c.out) > c.limits.MaxRules {
		slog.Warn("Compiled rule limit reached", slog.Int("compiled", len(c.out)), slog.Int("max", c.limits.MaxRules))
		c.truncate()
	}

	seen := make(map[int]struct{}, len(c.out))
	for i := range c.out {
		c.out[i].rule.ID = i + 1
		id := c.out[i].rule.ID
		if _, dup := seen[id]; dup {
			slog.Error("compiler.Compile", slog.Int("id", id), slog.Any("error", ErrDuplicateID))
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		res.Rules = append(res.Rules, c.out[i].rule)
		res.Origins[id] = c.out[i].origin
	}
	res.Diagnostics = c.diags
	return res, nil
}

func (c *compilation) emit(r common.CompiledRule, meta model.RuleMeta) {
	c.out = append(c.out, pending{rule: r, origin: common.Origin{RuleID: meta.ID, RuleName: meta.Name}, unit: c.unit})
}

// truncate keeps the highest priority source rules that fit under MaxRules.
// Ties go to the earlier rule. Output order is unchanged.
func (c *compilation) truncate() {
	size := map[int]int{}
	top := map[int]int{}
	var units []int
	for _, p := range c.out {
		if _, ok := size[p.unit]; !ok {
			units = append(units, p.unit)
		}
		size[p.unit]++
		top[p.unit] = max(top[p.unit], p.rule.Priority)
	}
	sort.SliceStable(units, func(i, j int) bool { return top[units[i]] > top[units[j]] })

	keep := make(map[int]bool, len(units))
	left := c.limits.MaxRules
	for _, u := range units {
		if size[u] <= left {
			keep[u] = true
			left -= size[u]
		}
	}

	kept := make([]pending, 0, c.limits.MaxRules)
	dropped := map[int]bool{}
	for _, p := range c.out {
		if keep[p.unit] {
			kept = append(kept, p)
			continue
		}
		if !dropped[p.unit] {
			dropped[p.unit] = true
			c.diags = append(c.diags, Diagnostic{RuleID: p.origin.RuleID, Err: fmt.Errorf("rule limit %d exceeded", c.limits.MaxRules)})
		}
	}
	c.out = kept
}

func (c *compilation) skip(meta model.RuleMeta, header string, err error) {
	slog.Warn("Rule skipped", slog.String("rule", meta.ID), slog.String("name", meta.Name), slog.String("header", header), slog.Any("error", err))
	c.diags = append(c.diags, Diagnostic{RuleID: meta.ID, Header: header, Err: err})
}

func (c *compilation) clampRewrite(priority int) int {
	// leave room for the navigation rule one above
	upper := c.limits.MaxPriority - 1
	if priority > upper {
		priority = upper
	}
	if priority <= HeaderPriority {
		priority = HeaderPriority + 1
	}
	return priority
}
