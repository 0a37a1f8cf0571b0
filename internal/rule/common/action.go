package common

import (
	"log/slog"
	"strings"
)

type ActionType string

const (
	ActionRedirect      ActionType = "redirect"
	ActionModifyHeaders ActionType = "modifyHeaders"
)

type HeaderOperation string

const (
	HeaderSet    HeaderOperation = "set"
	HeaderAppend HeaderOperation = "append"
	HeaderRemove HeaderOperation = "remove"
)

type Redirect struct {
	RegexSubstitution string `json:"regexSubstitution"`
}

type HeaderInfo struct {
	Header    string          `json:"header"`
	Operation HeaderOperation `json:"operation"`
	Value     string          `json:"value,omitempty"`
}

// Action is the engine verb applied when a compiled rule matches.
type Action struct {
	Type            ActionType   `json:"type"`
	Redirect        *Redirect    `json:"redirect,omitempty"`
	RequestHeaders  []HeaderInfo `json:"requestHeaders,omitempty"`
	ResponseHeaders []HeaderInfo `json:"responseHeaders,omitempty"`
}

func (a Action) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", string(a.Type))}
	if a.Redirect != nil {
		attrs = append(attrs, slog.String("substitution", a.Redirect.RegexSubstitution))
	}
	if len(a.RequestHeaders) > 0 {
		attrs = append(attrs, slog.String("request_headers", headerNames(a.RequestHeaders)))
	}
	if len(a.ResponseHeaders) > 0 {
		attrs = append(attrs, slog.String("response_headers", headerNames(a.ResponseHeaders)))
	}
	return slog.GroupValue(attrs...)
}

func headerNames(hs []HeaderInfo) string {
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		names = append(names, h.Header)
	}
	return strings.Join(names, ",")
}
