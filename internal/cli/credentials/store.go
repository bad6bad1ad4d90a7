// Package credentials caches admin API tokens between netconfd CLI
// invocations, keyed by server URL.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FileName is the token cache file inside the config directory.
	FileName = "credentials.json"
	// FilePermissions for the cache file (read/write for owner only).
	FilePermissions = 0600
	// DirPermissions for the cache directory.
	DirPermissions = 0700

	// expirySkew treats tokens close to expiry as already expired.
	expirySkew = 60 * time.Second
)

// ErrNotFound indicates no cached token exists for a server.
var ErrNotFound = errors.New("no cached token")

// Token is a cached bearer token for one admin API.
type Token struct {
	ServerURL   string    `json:"server_url"`
	Username    string    `json:"username,omitempty"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired returns true if the token is expired or expires within a minute.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(expirySkew).After(t.ExpiresAt)
}

// Store is a JSON file of tokens. It is not safe for concurrent processes;
// the last writer wins.
type Store struct {
	path   string
	tokens map[string]*Token
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, tokens: make(map[string]*Token)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		return nil, fmt.Errorf("cannot parse credentials %s: %w", path, err)
	}
	if s.tokens == nil {
		s.tokens = make(map[string]*Token)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the unexpired token for serverURL, or ErrNotFound.
func (s *Store) Get(serverURL string) (*Token, error) {
	tok, ok := s.tokens[serverURL]
	if !ok || tok.IsExpired() {
		return nil, ErrNotFound
	}
	return tok, nil
}

// Put stores tok and writes the file.
func (s *Store) Put(tok *Token) error {
	s.tokens[tok.ServerURL] = tok
	return s.save()
}

// Delete removes the token for serverURL and writes the file.
func (s *Store) Delete(serverURL string) error {
	if _, ok := s.tokens[serverURL]; !ok {
		return nil
	}
	delete(s.tokens, serverURL)
	return s.save()
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return fmt.Errorf("cannot create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, FilePermissions)
}
