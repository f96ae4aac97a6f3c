package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/storage"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"
	ChangeUpdated ChangeKind = "updated"
	ChangeLoaded  ChangeKind = "loaded"
)

// Change is delivered to subscribers after a mutation has been applied and persisted.
type Change struct {
	Kind      ChangeKind
	SessionID string
}

// Store holds the ordered sessions (most recent first) and persists the whole
// snapshot under one key after every mutation.
type Store struct {
	kv  storage.KV
	key string
	now func() time.Time

	mu       sync.Mutex
	sessions []chat.Session
	loaded   bool

	subMu     sync.Mutex
	listeners map[int]func(Change)
	nextSub   int
}

func NewStore(kv storage.KV, key string) *Store {
	return &Store{
		kv:        kv,
		key:       key,
		now:       time.Now,
		listeners: make(map[int]func(Change)),
	}
}

// Load replaces the in-memory sessions with the persisted snapshot. Any read or
// decode failure is logged and yields no sessions.
func (s *Store) Load() []chat.Session {
	s.mu.Lock()
	s.sessions, s.loaded = s.readSnapshot()
	out := cloneAll(s.sessions)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeLoaded})
	return out
}

func (s *Store) readSnapshot() ([]chat.Session, bool) {
	data, err := s.kv.Get(s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️ failed to read sessions %q: %v", s.key, err)
		}
		return []chat.Session{}, false
	}
	sessions, err := chat.Decode(data)
	if err != nil {
		log.Printf("⚠️ failed to load history %q: %v", s.key, err)
		return []chat.Session{}, false
	}
	return sessions, true
}

// LoadedFromDisk reports whether the last Load found a valid snapshot.
func (s *Store) LoadedFromDisk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Save overwrites the persisted snapshot with the current sessions.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := chat.Encode(s.sessions)
	if err != nil {
		return err
	}
	if err := s.kv.Set(s.key, data); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// Create inserts a new empty session at the front.
func (s *Store) Create() (chat.Session, error) {
	s.mu.Lock()
	sess := chat.NewSession(s.now())
	s.sessions = append([]chat.Session{sess}, s.sessions...)
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeCreated, SessionID: sess.ID})
	return sess.Clone(), err
}

// Delete removes the session by id. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeDeleted, SessionID: id})
	return err
}

// Update applies fn to the stored session and persists the snapshot. It returns
// false without calling fn when the session does not exist.
func (s *Store) Update(id string, fn func(*chat.Session)) (bool, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	fn(&s.sessions[idx])
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdated, SessionID: id})
	return true, err
}

func (s *Store) Get(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Sessions returns a deep copy in display order.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.sessions)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Backup copies the persisted snapshot to key + "." + suffix.
func (s *Store) Backup(suffix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := chat.Encode(s.sessions)
	if err != nil {
		return err
	}
	if err := s.kv.Set(s.key+"."+suffix, data); err != nil {
		return fmt.Errorf("backup sessions: %w", err)
	}
	return nil
}

// Subscribe registers fn for change notifications and returns a function that
// removes it. fn runs on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(in []chat.Session) []chat.Session {
	out := make([]chat.Session, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
