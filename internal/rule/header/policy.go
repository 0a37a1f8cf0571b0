package header

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sunbk201/rulesync/internal/model"
)

// Verdict is the outcome of checking one header action against what the
// engine allows to be mutated.
type Verdict struct {
	Allowed bool
	Reason  string
	// Warning is set when the header is allowed on a best-effort basis.
	Warning bool
}

func (v Verdict) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("allowed", v.Allowed),
		slog.String("reason", v.Reason),
		slog.Bool("warning", v.Warning),
	)
}

var forbidden = set(
	"host",
	"connection",
	"upgrade",
	"expect",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailer",
	"transfer-encoding",
)

var sensitiveResponse = set(
	"content-security-policy",
	"x-frame-options",
	"strict-transport-security",
	"upgrade-insecure-requests",
	"set-cookie",
	"set-cookie2",
)

var safeResponse = set(
	"cache-control",
	"content-type",
	"content-disposition",
	"content-encoding",
	"content-language",
	"expires",
	"last-modified",
	"etag",
	"vary",
	"server",
	"x-powered-by",
	"pragma",
	"age",
	"link",
	"refresh",
	"timing-allow-origin",
)

// Validate decides whether the engine may apply h.
func Validate(h model.HeaderAction) Verdict {
	name := strings.ToLower(strings.TrimSpace(h.Name))
	if name == "" {
		return Verdict{Reason: "empty header name"}
	}
	if _, ok := forbidden[name]; ok {
		return Verdict{Reason: fmt.Sprintf("%s cannot be modified", name)}
	}

	switch h.Target {
	case model.TargetResponse:
		if strings.HasPrefix(name, "access-control-") {
			return Verdict{Reason: fmt.Sprintf("CORS header %s cannot be modified on responses", name)}
		}
		if _, ok := sensitiveResponse[name]; ok {
			return Verdict{Reason: fmt.Sprintf("security header %s cannot be modified on responses", name)}
		}
		if strings.HasPrefix(name, "x-") {
			return Verdict{Allowed: true}
		}
		if _, ok := safeResponse[name]; ok {
			return Verdict{Allowed: true}
		}
		return Verdict{Allowed: true, Warning: true, Reason: fmt.Sprintf("response header %s may be ignored by the engine", name)}
	default:
		return Verdict{Allowed: true}
	}
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
