package pattern

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// urlParts is a best-effort structural reading of a URL regex. Offsets
// index into the original pattern string.
type urlParts struct {
	scheme    string
	authStart int
	authEnd   int // exclusive; authStart == authEnd when there is no authority
	host      string
	port      string // literal port digits
	anyPort   bool   // port present but given as a pattern such as \d+
	path      string
}

func (u urlParts) hasAuthority() bool { return u.authEnd > u.authStart }

func (u urlParts) hasPort() bool { return u.port != "" || u.anyPort }

var (
	bareHostRe    = regexp2.MustCompile(`^\.?[A-Za-z0-9-]+(\\?\.[A-Za-z0-9-]+)+(:\d+)?$`, regexp2.RE2)
	labelPortRe   = regexp2.MustCompile(`^[A-Za-z0-9-]+:(\d{1,5}|\\d[+*]?|\[0-9\][+*]?)$`, regexp2.RE2)
	portDigitsRe  = regexp2.MustCompile(`^\d{1,5}$`, regexp2.RE2)
	portPatternRe = regexp2.MustCompile(`^(\\d|\[0-9\]|\(\\d)`, regexp2.RE2)
)

func matches(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

func splitURL(p string) urlParts {
	start := 0
	if strings.HasPrefix(p, "^") {
		start = 1
	}
	end := len(p)
	if hasTrailingAnchor(p) {
		end--
	}
	if end < start {
		end = start
	}
	body := p[start:end]

	u := urlParts{authStart: start, authEnd: start}

	sep, sepLen := schemeSeparator(body)
	if sep >= 0 && strings.IndexByte(body[:sep], '/') >= 0 {
		// a "://" inside the path, as in a query parameter
		sep = -1
	}
	switch {
	case sep >= 0:
		// the scheme may itself be a pattern such as \w+ or .*
		u.scheme = strings.ToLower(body[:sep])
		u.authStart = start + sep + sepLen
		u.authEnd = start + authorityEnd(body, sep+sepLen)
	default:
		// schemeless host such as example.com/path, .example.com or localhost:3000
		host := body[:authorityEnd(body, 0)]
		if matches(bareHostRe, host) || matches(labelPortRe, host) {
			u.authEnd = start + len(host)
		}
	}

	authority := p[u.authStart:u.authEnd]
	u.host = authority
	if i := strings.LastIndexByte(authority, ':'); i >= 0 && !insideGroup(authority, i) {
		after := authority[i+1:]
		switch {
		case matches(portDigitsRe, after):
			u.port = after
			u.host = authority[:i]
		case matches(portPatternRe, after):
			u.anyPort = true
			u.host = authority[:i]
		}
	}
	u.path = p[u.authEnd:end]
	if !u.hasAuthority() && u.scheme == "" {
		u.path = body
	}
	return u
}

// schemeSeparator finds "://" or its escaped form ":\/\/".
func schemeSeparator(body string) (int, int) {
	if i := strings.Index(body, "://"); i >= 0 {
		return i, 3
	}
	if i := strings.Index(body, `:\/\/`); i >= 0 {
		return i, 5
	}
	return -1, 0
}

// authorityEnd returns the index of the first path separator at or after
// from, skipping bracket expressions and escapes. An escaped slash starts
// the path at its backslash.
func authorityEnd(s string, from int) int {
	inClass := false
	for i := from; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			if !inClass && i+1 < len(s) && s[i+1] == '/' {
				return i
			}
			i++
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			return i
		}
	}
	return len(s)
}

func insideGroup(s string, idx int) bool {
	depth, class := 0, false
	for i := 0; i < idx; i++ {
		switch s[i] {
		case '\\':
			i++
		case '[':
			class = true
		case ']':
			class = false
		case '(':
			if !class {
				depth++
			}
		case ')':
			if !class && depth > 0 {
				depth--
			}
		}
	}
	return depth > 0 || class
}

// hasTrailingAnchor reports whether p ends with an unescaped $.
func hasTrailingAnchor(p string) bool {
	if !strings.HasSuffix(p, "$") {
		return false
	}
	return !isEscaped(p, len(p)-1)
}

// isEscaped reports whether the byte at i is preceded by an odd number of
// backslashes.
func isEscaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
