package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sunbk201/rulesync/internal/rule/common"
)

// Engine is the host rule engine the compiled ruleset is installed into.
// UpdateRules applies removals then additions as one unit: when it returns
// an error nothing has changed.
type Engine interface {
	GetRules(ctx context.Context) ([]common.CompiledRule, error)
	UpdateRules(ctx context.Context, opts UpdateOptions) error
}

type UpdateOptions struct {
	RemoveRuleIDs []int
	AddRules      []common.CompiledRule
}

func (o UpdateOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("remove", len(o.RemoveRuleIDs)),
		slog.Int("add", len(o.AddRules)),
	)
}

var (
	ErrRuleLimit   = errors.New("rule limit exceeded")
	ErrDuplicateID = errors.New("duplicate rule id")
	ErrPriority    = errors.New("priority out of range")
	ErrRegex       = errors.New("invalid regex filter")
	ErrHeader      = errors.New("header cannot be modified")
	ErrAction      = errors.New("invalid action")
)

// Error reports the rule an update was rejected for.
type Error struct {
	RuleID int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Clear removes every installed rule.
func Clear(ctx context.Context, e Engine) error {
	rules, err := e.GetRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	return e.UpdateRules(ctx, UpdateOptions{RemoveRuleIDs: common.IDs(rules)})
}
