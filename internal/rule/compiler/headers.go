package compiler

import (
	"errors"
	"log/slog"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/header"
	"github.com/sunbk201/rulesync/internal/rule/pattern"
)

func (c *compilation) compileHeaders(r *model.HeaderModifyRule) {
	regex := pattern.Normalize(c.vars.SubstituteString(r.URLPattern))
	if err := pattern.Validate(regex); err != nil {
		c.skip(r.RuleMeta, "", &PatternError{RuleID: r.ID, Pattern: regex, Err: err})
		return
	}

	var request, response []common.HeaderInfo
	for _, h := range r.Headers {
		h.Value = c.vars.SubstituteString(h.Value)

		verdict := header.Validate(h)
		if !verdict.Allowed {
			c.skip(r.RuleMeta, h.Name, errors.New(verdict.Reason))
			continue
		}
		if verdict.Warning {
			slog.Warn("Header allowed on best-effort basis", slog.String("rule", r.ID), slog.String("header", h.Name), slog.String("reason", verdict.Reason))
		}

		info := common.HeaderInfo{Header: h.Name, Operation: common.HeaderOperation(h.Operation)}
		if h.Operation != model.OperationRemove {
			if h.Value == "" {
				c.skip(r.RuleMeta, h.Name, errors.New("value required for "+string(h.Operation)))
				continue
			}
			info.Value = h.Value
		}

		if h.Target == model.TargetResponse {
			response = append(response, info)
		} else {
			request = append(request, info)
		}
	}

	cond := common.Condition{RegexFilter: regex, ResourceTypes: common.AllResourceTypes()}
	if len(request) > 0 {
		c.emit(common.CompiledRule{
			Priority:  HeaderPriority,
			Action:    common.Action{Type: common.ActionModifyHeaders, RequestHeaders: request},
			Condition: cond,
		}, r.RuleMeta)
	}
	if len(response) > 0 {
		c.emit(common.CompiledRule{
			Priority:  HeaderPriority,
			Action:    common.Action{Type: common.ActionModifyHeaders, ResponseHeaders: response},
			Condition: cond,
		}, r.RuleMeta)
	}
}
