package pattern

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// Normalize anchors p for whole-URL matching and escapes literal dots in its
// authority. If the result does not compile the original p is returned.
func Normalize(p string) string {
	u := splitURL(p)
	out := p
	if u.hasAuthority() {
		out = p[:u.authStart] + escapeDots(p[u.authStart:u.authEnd]) + p[u.authEnd:]
	}
	if !strings.HasPrefix(out, "^") {
		out = "^" + out
	}
	if !hasTrailingAnchor(out) {
		out += "$"
	}

	if err := Validate(out); err != nil {
		slog.Warn("pattern.Normalize", slog.String("pattern", p), slog.String("normalized", out), slog.Any("error", err))
		return p
	}
	return out
}

// Compile compiles p with the options every rule pattern is checked with.
func Compile(p string) (*regexp2.Regexp, error) {
	return regexp2.Compile(p, regexp2.RE2)
}

// Validate checks that p compiles here and in the engine's RE2 dialect.
func Validate(p string) error {
	if _, err := Compile(p); err != nil {
		return err
	}
	if _, err := regexp.Compile(p); err != nil {
		return fmt.Errorf("engine syntax: %w", err)
	}
	return nil
}

// escapeDots escapes every dot that stands for a literal separator. Dots that
// are already escaped, sit inside a character class, or carry a quantifier
// (as in .* or .+) are left alone.
func escapeDots(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inClass := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			b.WriteByte(c)
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '.' && !inClass && !quantified(s, i):
			b.WriteString(`\.`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func quantified(s string, i int) bool {
	if i+1 >= len(s) {
		return false
	}
	switch s[i+1] {
	case '*', '+', '?', '{':
		return true
	}
	return false
}
