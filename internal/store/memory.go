package store

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("store closed")

type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	hub    hub
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), hub: newHub()}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = append([]byte(nil), value...)
	m.hub.publish(Change{Keys: []string{key}})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.data[key]; !ok {
		return nil
	}
	delete(m.data, key)
	m.hub.publish(Change{Keys: []string{key}})
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	ch := m.hub.add()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.hub.remove(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.hub.closeAll()
	return nil
}
