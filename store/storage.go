package store

import (
	"context"
	"sync"
)

// Storage is the durable mirror of the credential pair: two string values
// (access, refresh) written atomically per key, plus a change feed for
// modifications made by other execution contexts.
//
// Watch must deliver a signal for foreign writes only. A Storage
// implementation that cannot distinguish its own writes will make the
// owning Store re-announce its own updates as external.
type Storage interface {
	Load(ctx context.Context) (access, refresh string, err error)
	Save(ctx context.Context, access, refresh string) error
	Delete(ctx context.Context) error
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// MemoryStorage is a process-local Storage. Its own Save and Delete never
// signal watchers; ExternalUpdate and ExternalDelete inject a foreign write,
// which is how tests (and in-process secondary contexts) exercise the
// reconciliation path.
type MemoryStorage struct {
	mu       sync.Mutex
	access   string
	refresh  string
	watchers []chan struct{}
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns the stored pair.
func (m *MemoryStorage) Load(context.Context) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.refresh, nil
}

// Save replaces the stored pair without signaling watchers.
func (m *MemoryStorage) Save(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = access
	m.refresh = refresh
	return nil
}

// Delete removes the stored pair without signaling watchers.
func (m *MemoryStorage) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = ""
	m.refresh = ""
	return nil
}

// Watch registers a change feed that fires once per injected external write.
func (m *MemoryStorage) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, w := range m.watchers {
			if w == ch {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}()

	return ch, nil
}

// ExternalUpdate writes a pair as if another execution context had done it
// and signals every watcher.
func (m *MemoryStorage) ExternalUpdate(access, refresh string) {
	m.mu.Lock()
	m.access = access
	m.refresh = refresh
	watchers := append([]chan struct{}(nil), m.watchers...)
	m.mu.Unlock()
	notify(watchers)
}

// ExternalDelete removes the pair as a foreign write and signals watchers.
func (m *MemoryStorage) ExternalDelete() {
	m.mu.Lock()
	m.access = ""
	m.refresh = ""
	watchers := append([]chan struct{}(nil), m.watchers...)
	m.mu.Unlock()
	notify(watchers)
}

func notify(watchers []chan struct{}) {
	for _, w := range watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}
