package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"glamour-studio/internal/studio"
)

type Options struct {
	// TTL is how long an untouched session is kept.
	TTL time.Duration
	// New builds the session for an id.
	New func(id string) *studio.Session
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*studio.Session
	ttl      time.Duration
	newFn    func(id string) *studio.Session
}

func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}

	newFn := opts.New
	if newFn == nil {
		newFn = func(id string) *studio.Session {
			return studio.NewSession(studio.Options{ID: id})
		}
	}

	return &Store{
		sessions: make(map[string]*studio.Session),
		ttl:      ttl,
		newFn:    newFn,
	}
}

// Create registers a session under a fresh random id.
func (s *Store) Create() *studio.Session {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.newFn(id)
	s.sessions[id] = sess
	return sess
}

func (s *Store) Get(id string) (*studio.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Store) GetOrCreate(id string) *studio.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := s.newFn(id)
	s.sessions[id] = sess
	return sess
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Close()
	}
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed. Sessions with a request in flight are kept.
func (s *Store) Sweep(now time.Time) int {
	var expired []*studio.Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Busy() {
			continue
		}
		if now.Sub(sess.LastActivity()) > s.ttl {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
	}
	return len(expired)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
