package common

import "log/slog"

// CompiledRule is the engine-facing form of a rule.
type CompiledRule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

type Condition struct {
	RegexFilter   string         `json:"regexFilter"`
	ResourceTypes []ResourceType `json:"resourceTypes"`
}

func (r CompiledRule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", r.ID),
		slog.Int("priority", r.Priority),
		slog.String("regex", r.Condition.RegexFilter),
		slog.Any("action", r.Action),
	)
}

// Origin links a compiled rule back to the authored rule it came from.
type Origin struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName,omitempty"`
}

// IDs returns the ids of rules in order.
func IDs(rules []CompiledRule) []int {
	ids := make([]int, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}
