package store

import (
	"context"
	"log/slog"
	"strings"
)

// Change names the keys that were written or deleted.
type Change struct {
	Keys []string
}

func (c Change) Has(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func (c Change) LogValue() slog.Value {
	return slog.StringValue(strings.Join(c.Keys, ","))
}

// Store is the persistent key-value area the rule model lives in. Values are
// JSON documents. Watch streams changes, including ones made through this
// Store, until ctx is done.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

const watchBuffer = 64

// hub fans changes out to watchers. A watcher that does not keep up loses
// the change; a later resync repairs it.
type hub struct {
	subs map[chan Change]struct{}
}

func newHub() hub {
	return hub{subs: make(map[chan Change]struct{})}
}

func (h *hub) add() chan Change {
	ch := make(chan Change, watchBuffer)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *hub) remove(ch chan Change) {
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(c Change) {
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
			slog.Warn("Store watcher lagging, change dropped", slog.Any("change", c))
		}
	}
}

func (h *hub) closeAll() {
	for ch := range h.subs {
		h.remove(ch)
	}
}
