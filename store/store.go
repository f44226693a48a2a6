package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goAuthClient/token"
)

// EventType discriminates listener notifications.
type EventType uint8

const (
	// EventUpdated fires when a new credential pair becomes current.
	EventUpdated EventType = iota + 1
	// EventCleared fires when the current credential is removed.
	EventCleared
)

// Diagnostic source tags carried on events. Free-form by contract; these are
// the tags this module emits.
const (
	SourceLogin    = "login"
	SourceRegister = "register"
	SourceRefresh  = "refresh"
	SourceFallback = "fallback"
	SourceExternal = "external"
)

// Event describes one credential state change.
type Event struct {
	Type       EventType
	Credential *token.Credential
	Source     string
}

// Listener receives credential state changes. A panicking listener is
// recovered and logged; it never reaches other listeners or the mutator.
type Listener func(Event)

// ErrNotStarted is returned by Start misuse paths.
var ErrNotStarted = errors.New("store not started")

type listenerEntry struct {
	id uint64
	fn Listener
}

// Store is the single in-process owner of the current credential pair.
// Construct one explicitly per execution context; there is no package-level
// instance.
type Store struct {
	storage Storage
	log     zerolog.Logger

	mu        sync.RWMutex
	cred      *token.Credential
	refresh   string
	listeners []listenerEntry
	nextID    uint64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger attaches a logger for persistence and listener failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New builds a Store over the given durable layer. Call Start before use.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the persisted pair into memory and begins watching the durable
// layer for foreign writes. It is the only moment the durable layer is read
// on behalf of Current.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return errors.New("store already started")
	}

	access, refresh, err := s.storage.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("initial credential load failed")
	} else if access != "" {
		cred, derr := token.NewCredential(access)
		if derr != nil {
			s.log.Warn().Err(derr).Msg("persisted credential undecodable, starting empty")
		} else {
			s.mu.Lock()
			s.cred = cred
			s.refresh = refresh
			s.mu.Unlock()
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	feed, err := s.storage.Watch(watchCtx)
	if err != nil {
		cancel()
		return err
	}
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-feed:
				if !ok {
					return
				}
				s.reconcile(watchCtx)
			}
		}
	}()
	return nil
}

// Close stops the watch goroutine. The in-memory value stays readable.
func (s *Store) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
}

// Current returns the credential owned by this process, or nil. It never
// touches the durable layer.
func (s *Store) Current() *token.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// RefreshToken returns the long-lived refresh credential, or "".
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Update replaces the current pair, persists it best-effort, and notifies
// listeners. A persistence failure is logged; the in-memory value is
// authoritative and listeners fire regardless.
func (s *Store) Update(ctx context.Context, cred *token.Credential, refreshToken, source string) {
	s.mu.Lock()
	s.cred = cred
	s.refresh = refreshToken
	s.mu.Unlock()

	var raw string
	if cred != nil {
		raw = cred.Raw
	}
	if err := s.storage.Save(ctx, raw, refreshToken); err != nil {
		s.log.Warn().Err(err).Str("source", source).Msg("credential persistence failed")
	}

	s.dispatch(Event{Type: EventUpdated, Credential: cred, Source: source})
}

// Clear removes the current pair, persists the removal best-effort, and
// notifies listeners.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.cred = nil
	s.refresh = ""
	s.mu.Unlock()

	if err := s.storage.Delete(ctx); err != nil {
		s.log.Warn().Err(err).Msg("credential removal persistence failed")
	}

	s.dispatch(Event{Type: EventCleared})
}

// Subscribe registers a listener and returns its deregistration capability.
// Listeners are notified in registration order.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.listeners {
			if entry.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) dispatch(ev Event) {
	s.mu.RLock()
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.RUnlock()

	for _, entry := range listeners {
		s.safeNotify(entry.fn, ev)
	}
}

func (s *Store) safeNotify(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("credential listener panicked")
		}
	}()
	fn(ev)
}

// reconcile re-reads the durable layer after a foreign write and replays the
// difference to local listeners with SourceExternal.
func (s *Store) reconcile(ctx context.Context) {
	access, refresh, err := s.storage.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("external change reload failed")
		return
	}

	s.mu.Lock()
	currentRaw := ""
	if s.cred != nil {
		currentRaw = s.cred.Raw
	}

	if access == "" {
		if currentRaw == "" {
			s.refresh = refresh
			s.mu.Unlock()
			return
		}
		s.cred = nil
		s.refresh = ""
		s.mu.Unlock()
		s.dispatch(Event{Type: EventCleared, Source: SourceExternal})
		return
	}

	if access == currentRaw {
		// Same bearer; pick up a rotated refresh credential silently.
		s.refresh = refresh
		s.mu.Unlock()
		return
	}

	cred, derr := token.NewCredential(access)
	if derr != nil {
		s.mu.Unlock()
		s.log.Warn().Err(derr).Msg("external credential undecodable, keeping local state")
		return
	}
	s.cred = cred
	s.refresh = refresh
	s.mu.Unlock()

	s.dispatch(Event{Type: EventUpdated, Credential: cred, Source: SourceExternal})
}
