package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const logWriteWait = 10 * time.Second

var logUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// logSink delivers one log line to a /logs client.
type logSink interface {
	send(line []byte) error
}

type wsSink struct{ conn *websocket.Conn }

func (s wsSink) send(line []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(logWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, line)
}

type chunkSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s chunkSink) send(line []byte) error {
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleLogs follows the process log. WebSocket clients get one text message
// per line; other clients get a chunked text/plain response.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeError(w, http.StatusNotFound, errLogsDisabled)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		conn, err := logUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("logUpgrader.Upgrade", slog.Any("error", err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			// the client never sends; a read error means it went away
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		s.followLogs(ctx, wsSink{conn: conn})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNoStreaming)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.followLogs(r.Context(), chunkSink{w: w, f: flusher})
}

// followLogs copies broadcast lines to sink until ctx ends, the sink fails
// or the broadcaster closes the subscription.
func (s *APIServer) followLogs(ctx context.Context, sink logSink) {
	lines := s.opts.Logs.Subscribe()
	defer s.opts.Logs.Unsubscribe(lines)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || sink.send(line) != nil {
				return
			}
		}
	}
}
