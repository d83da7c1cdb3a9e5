// Package token persists the access/refresh token pair for the chirp API.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoTokens is returned when no token pair has been saved yet.
var ErrNoTokens = errors.New("token: no saved tokens")

// Pair holds an access token and the refresh token used to renew it.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store keeps the token pair in a mode-0600 JSON file inside the session dir.
type Store struct {
	path string

	mu   sync.Mutex
	pair *Pair
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved pair, reading the file on first use.
func (s *Store) Load() (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair != nil {
		return *s.pair, nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Pair{}, ErrNoTokens
	}
	if err != nil {
		return Pair{}, fmt.Errorf("read tokens: %w", err)
	}
	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return Pair{}, fmt.Errorf("parse tokens: %w", err)
	}
	s.pair = &p
	return p, nil
}

// Save writes the pair atomically and caches it.
func (s *Store) Save(p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename tokens: %w", err)
	}
	s.pair = &p
	return nil
}

// Clear removes the saved pair, both the cache and the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Subject returns the sub claim of the saved access token, or "" when no
// pair is saved or the token is unparseable.
func (s *Store) Subject() string {
	pair, err := s.Load()
	if err != nil {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(pair.AccessToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// Expired reports whether the token's exp claim is within leeway of now.
// Tokens without a parseable exp claim are treated as expired so the
// caller falls back to a refresh.
func Expired(tok string, leeway time.Duration) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().Add(leeway).After(exp.Time)
}
