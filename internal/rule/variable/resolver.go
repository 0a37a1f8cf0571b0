package variable

import (
	"strings"

	"github.com/sunbk201/rulesync/internal/model"
)

// Resolver expands {{name}} placeholders. It is immutable once built.
type Resolver struct {
	vars []model.EnvironmentVariable
}

func New(vars []model.EnvironmentVariable) *Resolver {
	cp := make([]model.EnvironmentVariable, len(vars))
	copy(cp, vars)
	return &Resolver{vars: cp}
}

// Substitute returns v with every known placeholder replaced when v is a
// string, and v unchanged otherwise. Unknown names stay verbatim.
func (r *Resolver) Substitute(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return r.SubstituteString(s)
}

func (r *Resolver) SubstituteString(s string) string {
	if r == nil || !strings.Contains(s, "{{") {
		return s
	}
	for _, v := range r.vars {
		if v.Name == "" {
			continue
		}
		s = strings.ReplaceAll(s, "{{"+v.Name+"}}", v.Value)
	}
	return s
}

// Variables returns a copy of the variables the resolver was built from.
func (r *Resolver) Variables() []model.EnvironmentVariable {
	if r == nil {
		return nil
	}
	cp := make([]model.EnvironmentVariable, len(r.vars))
	copy(cp, r.vars)
	return cp
}

func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.vars)
}
