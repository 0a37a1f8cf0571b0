//go:build unix

package log

import (
	"log/slog"
	"strings"

	"golang.org/x/sys/unix"
)

func platformInfo() []any {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return []any{slog.String("uname", err.Error())}
	}
	return []any{
		slog.String("sysname", cstring(uname.Sysname[:])),
		slog.String("release", cstring(uname.Release[:])),
		slog.String("version", cstring(uname.Version[:])),
		slog.String("machine", cstring(uname.Machine[:])),
	}
}

func cstring(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return strings.TrimSpace(string(b[:n]))
}
