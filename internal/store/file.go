package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"
)

const DefaultDebounce = 100 * time.Millisecond

// File keeps every key in a single YAML document. Edits made to the file by
// hand show up on Watch like writes made through Set.
type File struct {
	path     string
	debounce time.Duration

	mu     sync.Mutex
	last   map[string][]byte
	hub    hub
	closed bool

	watcher *fsnotify.Watcher
	bounce  *debouncer
	done    chan struct{}
}

func NewFile(path string, debounce time.Duration) (*File, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	f := &File{
		path:     path,
		debounce: debounce,
		hub:      newHub(),
		done:     make(chan struct{}),
	}
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	f.last = doc
	return f, nil
}

// read loads the document as key to canonical JSON value.
func (f *File) read() (map[string][]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	out := make(map[string][]byte, len(doc))
	for k, v := range doc {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

func (f *File) write(doc map[string][]byte) error {
	plain := make(map[string]any, len(doc))
	for k, raw := range doc {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("key %s: %w", k, err)
		}
		plain[k] = v
	}
	data, err := yaml.Marshal(plain)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".store-*.yaml")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, ErrClosed
	}
	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("key %s: value is not JSON", key)
	}
	return f.update(key, func(doc map[string][]byte) { doc[key] = value })
}

func (f *File) Delete(_ context.Context, key string) error {
	return f.update(key, func(doc map[string][]byte) { delete(doc, key) })
}

func (f *File) update(key string, mutate func(map[string][]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	doc, err := f.read()
	if err != nil {
		return err
	}
	mutate(doc)
	if err := f.write(doc); err != nil {
		return err
	}
	f.notify(doc)
	return nil
}

// notify publishes the keys that differ from the last seen document.
// Must be called with f.mu held.
func (f *File) notify(doc map[string][]byte) {
	changed := diff(f.last, doc)
	f.last = doc
	if len(changed) > 0 {
		f.hub.publish(Change{Keys: changed})
	}
}

func diff(prev, next map[string][]byte) []string {
	var keys []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || !jsonEqual(old, v) {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func jsonEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.watcher == nil {
		if err := f.startWatcher(); err != nil {
			return nil, err
		}
	}
	ch := f.hub.add()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.hub.remove(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// startWatcher watches the parent directory so that atomic replaces of the
// file are seen. Must be called with f.mu held.
func (f *File) startWatcher() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	f.watcher = w
	f.bounce = newDebouncer(f.debounce)
	go f.loop()
	slog.Info("Store file watcher started", slog.String("path", f.path), slog.Duration("debounce", f.debounce))
	return nil
}

func (f *File) loop() {
	defer close(f.done)
	name := filepath.Clean(f.path)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			slog.Debug("Store file event", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			f.bounce.trigger(f.reload)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Store file watcher error", slog.Any("error", err))
		}
	}
}

func (f *File) reload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	doc, err := f.read()
	if err != nil {
		slog.Error("store.File.reload", slog.String("path", f.path), slog.Any("error", err))
		return
	}
	f.notify(doc)
}

func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.hub.closeAll()
	w, bounce := f.watcher, f.bounce
	f.mu.Unlock()

	if w == nil {
		return nil
	}
	bounce.stop()
	err := w.Close()
	<-f.done
	return err
}
