package compiler

import (
	"errors"
	"strings"

	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/pattern"
)

func (c *compilation) compileRewrite(r *model.URLRewriteRule) {
	source := c.vars.SubstituteString(r.SourcePattern)
	target := c.vars.SubstituteString(r.TargetTemplate)
	if strings.TrimSpace(target) == "" {
		c.skip(r.RuleMeta, "", &PatternError{RuleID: r.ID, Pattern: r.TargetTemplate, Err: errors.New("empty target")})
		return
	}

	regex := pattern.Normalize(source)
	if err := pattern.Validate(regex); err != nil {
		c.skip(r.RuleMeta, "", &PatternError{RuleID: r.ID, Pattern: regex, Err: err})
		return
	}

	priority := c.clampRewrite(RewriteBasePriority + pattern.Specificity(regex))
	action := common.Action{
		Type:     common.ActionRedirect,
		Redirect: &common.Redirect{RegexSubstitution: Substitution(target)},
	}

	c.emit(common.CompiledRule{
		Priority:  priority,
		Action:    action,
		Condition: common.Condition{RegexFilter: regex, ResourceTypes: common.AllResourceTypes()},
	}, r.RuleMeta)

	if r.PreserveOriginalHost {
		c.emit(common.CompiledRule{
			Priority:  min(priority+1, c.limits.MaxPriority),
			Action:    action,
			Condition: common.Condition{RegexFilter: regex, ResourceTypes: common.NavigationResourceTypes()},
		}, r.RuleMeta)
	}
}

// Substitution rewrites $N backreferences into the engine's \N form.
// $$ yields a literal dollar sign.
func Substitution(target string) string {
	if !strings.Contains(target, "$") {
		return target
	}
	var b strings.Builder
	b.Grow(len(target))
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c == '$' && i+1 < len(target) {
			next := target[i+1]
			switch {
			case next >= '0' && next <= '9':
				b.WriteByte('\\')
				b.WriteByte(next)
				i++
				continue
			case next == '$':
				b.WriteByte('$')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
