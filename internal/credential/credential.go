// Package credential holds the API key a session uses for video synthesis.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"
)

var ErrInvalidKey = errors.New("invalid api key")

// Selector reports and changes the key selected for a session.
type Selector interface {
	HasSelectedKey(ctx context.Context) (bool, error)
	SelectKey(ctx context.Context, key string) error
	Key() string
}

// Static holds one key, typically the server key from configuration.
// An empty key means nothing is selected.
type Static struct {
	mu  sync.RWMutex
	key string
}

func NewStatic(key string) *Static {
	return &Static{key: strings.TrimSpace(key)}
}

func (s *Static) HasSelectedKey(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != "", nil
}

func (s *Static) SelectKey(_ context.Context, key string) error {
	key, err := Validate(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

func (s *Static) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Session starts with no selection. Key falls back to the server key until
// the user selects one, but HasSelectedKey only reports the user's choice.
type Session struct {
	mu       sync.RWMutex
	selected string
	fallback string
}

func NewSession(fallback string) *Session {
	return &Session{fallback: strings.TrimSpace(fallback)}
}

func (s *Session) HasSelectedKey(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected != "", nil
}

func (s *Session) SelectKey(_ context.Context, key string) error {
	key, err := Validate(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.selected = key
	s.mu.Unlock()
	return nil
}

func (s *Session) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected != "" {
		return s.selected
	}
	return s.fallback
}

func Validate(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return "", ErrInvalidKey
	}
	return key, nil
}

// Mask keeps the last four characters for logs.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
