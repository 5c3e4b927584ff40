package qubesdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by the daemon's own tests, matching
// the design note (spec §9) that tests inject a fake config store instead
// of talking to the real QubesDB service.
type MemStore struct {
	mu     sync.Mutex
	data   map[string]string
	events chan string
	closed bool
}

// NewMemStore creates an empty fake store with a buffered event queue.
func NewMemStore() *MemStore {
	return &MemStore{
		data:   make(map[string]string),
		events: make(chan string, 64),
	}
}

// Set installs or overwrites a single full key, e.g.
// "/qubes-firewall/10.137.0.5/policy".
func (m *MemStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Delete removes a previously set key.
func (m *MemStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// PushEvent enqueues a watch event path, delivered in order by ReadWatch.
func (m *MemStore) PushEvent(path string) {
	m.events <- path
}

// Close unblocks any pending ReadWatch, simulating the termination signal
// interrupting the watch read.
func (m *MemStore) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.events)
}

func (m *MemStore) MultiRead(ctx context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out, nil
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Watch is a no-op on the fake: PushEvent stands in for the store actually
// noticing a write.
func (m *MemStore) Watch(ctx context.Context, path string) error {
	return nil
}

func (m *MemStore) ReadWatch(ctx context.Context) (string, error) {
	select {
	case path, ok := <-m.events:
		if !ok {
			return "", fmt.Errorf("qubesdb: watch closed")
		}
		return path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *MemStore) WatchFD() int {
	return -1
}

var _ Store = (*MemStore)(nil)
