package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sunbk201/rulesync/internal/rule/common"
)

// File keeps the installed ruleset in a JSON file so that other programs
// (a browser profile loader, a proxy) can pick it up.
type File struct {
	*Memory
	path string
}

func NewFile(path string, limits common.Limits) (*File, error) {
	f := &File{Memory: NewMemory(limits), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, err
	}
	if len(data) == 0 {
		return f, nil
	}

	var rules []common.CompiledRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := f.Memory.UpdateRules(context.Background(), UpdateOptions{AddRules: rules}); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("Engine rules loaded", slog.String("path", path), slog.Int("count", len(rules)))
	return f, nil
}

func (f *File) UpdateRules(ctx context.Context, opts UpdateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next, err := f.apply(opts)
	if err != nil {
		return err
	}
	prev := f.rules
	f.rules = next
	if err := f.write(); err != nil {
		f.rules = prev
		return err
	}
	return nil
}

func (f *File) write() error {
	data, err := json.MarshalIndent(f.snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".rules-*.json")
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
