package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/header"
	"github.com/sunbk201/rulesync/internal/rule/pattern"
)

type installed struct {
	rule  common.CompiledRule
	regex *regexp2.Regexp
}

// Memory is an in-process engine. It enforces the same limits and checks a
// browser engine applies and can evaluate a URL against the installed set.
type Memory struct {
	mu     sync.RWMutex
	limits common.Limits
	rules  map[int]*installed
}

func NewMemory(limits common.Limits) *Memory {
	return &Memory{
		limits: limits.Normalized(),
		rules:  make(map[int]*installed),
	}
}

func (m *Memory) GetRules(ctx context.Context) ([]common.CompiledRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(), nil
}

func (m *Memory) snapshot() []common.CompiledRule {
	out := make([]common.CompiledRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) UpdateRules(ctx context.Context, opts UpdateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.apply(opts)
	if err != nil {
		slog.Warn("engine.Memory.UpdateRules", slog.Any("opts", opts), slog.Any("error", err))
		return err
	}
	m.rules = next
	return nil
}

// apply builds the resulting rule table without touching the live one.
func (m *Memory) apply(opts UpdateOptions) (map[int]*installed, error) {
	next := make(map[int]*installed, len(m.rules)+len(opts.AddRules))
	for id, r := range m.rules {
		next[id] = r
	}
	for _, id := range opts.RemoveRuleIDs {
		delete(next, id)
	}
	for _, r := range opts.AddRules {
		if _, dup := next[r.ID]; dup {
			return nil, &Error{RuleID: r.ID, Err: ErrDuplicateID}
		}
		in, err := m.check(r)
		if err != nil {
			return nil, &Error{RuleID: r.ID, Err: err}
		}
		next[r.ID] = in
	}
	if len(next) > m.limits.MaxRules {
		return nil, fmt.Errorf("%w: %d > %d", ErrRuleLimit, len(next), m.limits.MaxRules)
	}
	return next, nil
}

func (m *Memory) check(r common.CompiledRule) (*installed, error) {
	if r.ID < 1 {
		return nil, fmt.Errorf("%w: id %d", ErrAction, r.ID)
	}
	if r.Priority < 1 || r.Priority > m.limits.MaxPriority {
		return nil, fmt.Errorf("%w: %d", ErrPriority, r.Priority)
	}
	if err := pattern.Validate(r.Condition.RegexFilter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegex, err)
	}
	regex, err := pattern.Compile(r.Condition.RegexFilter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegex, err)
	}

	switch r.Action.Type {
	case common.ActionRedirect:
		if r.Action.Redirect == nil || r.Action.Redirect.RegexSubstitution == "" {
			return nil, fmt.Errorf("%w: redirect without substitution", ErrAction)
		}
	case common.ActionModifyHeaders:
		if len(r.Action.RequestHeaders) == 0 && len(r.Action.ResponseHeaders) == 0 {
			return nil, fmt.Errorf("%w: no headers", ErrAction)
		}
		if err := checkHeaders(r.Action.RequestHeaders, model.TargetRequest); err != nil {
			return nil, err
		}
		if err := checkHeaders(r.Action.ResponseHeaders, model.TargetResponse); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: type %q", ErrAction, r.Action.Type)
	}
	return &installed{rule: r, regex: regex}, nil
}

func checkHeaders(hs []common.HeaderInfo, target model.Target) error {
	for _, h := range hs {
		v := header.Validate(model.HeaderAction{
			Name:      h.Header,
			Operation: model.Operation(h.Operation),
			Value:     h.Value,
			Target:    target,
		})
		if !v.Allowed {
			return fmt.Errorf("%w: %s", ErrHeader, v.Reason)
		}
		if h.Operation != common.HeaderRemove && h.Value == "" {
			return fmt.Errorf("%w: %s needs a value", ErrAction, h.Header)
		}
	}
	return nil
}

// Outcome is what the installed rules do to one request.
type Outcome struct {
	RedirectRuleID  int                 `json:"redirectRuleId,omitempty"`
	RedirectURL     string              `json:"redirectUrl,omitempty"`
	RequestHeaders  []common.HeaderInfo `json:"requestHeaders,omitempty"`
	ResponseHeaders []common.HeaderInfo `json:"responseHeaders,omitempty"`
}

// Evaluate runs url through the installed rules the way the engine would:
// the highest priority matching redirect wins, ties going to the lower id,
// and every matching header rule contributes in priority order.
func (m *Memory) Evaluate(url string, rt common.ResourceType) (*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*installed
	for _, in := range m.rules {
		if !slices.Contains(in.rule.Condition.ResourceTypes, rt) {
			continue
		}
		ok, err := in.regex.MatchString(url)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, in)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].rule.Priority != matched[j].rule.Priority {
			return matched[i].rule.Priority > matched[j].rule.Priority
		}
		return matched[i].rule.ID < matched[j].rule.ID
	})

	out := &Outcome{}
	for _, in := range matched {
		switch in.rule.Action.Type {
		case common.ActionRedirect:
			if out.RedirectRuleID != 0 {
				continue
			}
			target, err := in.regex.Replace(url, replacement(in.rule.Action.Redirect.RegexSubstitution), -1, -1)
			if err != nil {
				return nil, err
			}
			out.RedirectRuleID = in.rule.ID
			out.RedirectURL = target
		case common.ActionModifyHeaders:
			out.RequestHeaders = append(out.RequestHeaders, in.rule.Action.RequestHeaders...)
			out.ResponseHeaders = append(out.ResponseHeaders, in.rule.Action.ResponseHeaders...)
		}
	}
	return out, nil
}

// replacement turns an engine \N substitution into regexp2's $N form.
func replacement(sub string) string {
	var b strings.Builder
	for i := 0; i < len(sub); i++ {
		c := sub[i]
		switch {
		case c == '\\' && i+1 < len(sub) && sub[i+1] >= '0' && sub[i+1] <= '9':
			b.WriteString("${")
			b.WriteByte(sub[i+1])
			b.WriteByte('}')
			i++
		case c == '$':
			b.WriteString("$$")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
