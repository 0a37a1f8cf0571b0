package pattern

import (
	"strconv"
	"strings"
)

// Specificity weights. Every non-port dimension is capped so their sum stays
// below PortUnit; that keeps an explicit port, and a larger port number,
// ahead of any combination of the other bonuses.
const (
	BaseScore = 100

	SchemeHTTPS   = 30
	SchemeHTTP    = 20
	SchemePattern = 10

	PortFixed      = 1_000_000
	PortUnit       = 1_000
	PortNonDefault = 500_000

	SubdomainPerLevel = 15
	SubdomainMax      = 60
	ExactDomain       = 60
	DomainLengthMax   = 60
	PathLengthMax     = 150
	PathSegment       = 10
	PathSegmentMax    = 80
	SpecificPath      = 60
	EscapeWeight      = 3
	ClassWeight       = 8
	ComplexityMax     = 150
)

var catchAllPaths = map[string]struct{}{
	"":       {},
	"/":      {},
	".*":     {},
	".+":     {},
	"(.*)":   {},
	"(.+)":   {},
	"/.*":    {},
	"/.+":    {},
	"/(.*)":  {},
	"/(.+)":  {},
	"/?.*":   {},
	"(/.*)?": {},
	`\/.*`:   {},
	`\/(.*)`: {},
}

// Specificity ranks how precisely p selects URLs. Higher is more specific.
func Specificity(p string) int {
	u := splitURL(p)
	score := BaseScore

	switch {
	case u.scheme == "https":
		score += SchemeHTTPS
	case u.scheme == "http":
		score += SchemeHTTP
	case u.scheme != "":
		score += SchemePattern
	}

	score += portScore(u)

	host := literalHost(u.host)
	if host != "" {
		labels := strings.Split(strings.TrimPrefix(host, "."), ".")
		if depth := len(labels) - 2; depth > 0 {
			score += min(depth*SubdomainPerLevel, SubdomainMax)
		}
		score += min(len(host), DomainLengthMax)
		if !strings.ContainsAny(host, `*+?()[]{}|^$\`) {
			score += ExactDomain
		}
	}

	score += min(len(u.path), PathLengthMax)
	score += min(strings.Count(u.path, "/")*PathSegment, PathSegmentMax)
	if _, ok := catchAllPaths[u.path]; !ok {
		score += SpecificPath
	}

	score += complexity(p)
	return score
}

func portScore(u urlParts) int {
	if !u.hasPort() {
		return 0
	}
	score := PortFixed
	if u.port == "" {
		return score
	}
	port, err := strconv.Atoi(u.port)
	if err != nil {
		return score
	}
	score += port * PortUnit
	if !isDefaultPort(u.scheme, port) {
		score += PortNonDefault
	}
	return score
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "https":
		return port == 443
	case "http":
		return port == 80
	default:
		return port == 80 || port == 443
	}
}

// literalHost strips escapes from dots so a\.b\.c reads as a.b.c.
func literalHost(h string) string {
	return strings.ReplaceAll(h, `\.`, ".")
}

func complexity(p string) int {
	escapes, classes := 0, 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			escapes++
			i++
		case '[':
			if !isEscaped(p, i) {
				classes++
			}
		}
	}
	return min(escapes*EscapeWeight+classes*ClassWeight, ComplexityMax)
}
