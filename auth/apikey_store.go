package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// APIKey is an issued API key bound to the wallet that proved ownership.
type APIKey struct {
	Key       string    `json:"key"`
	Wallet    string    `json:"wallet"`
	Source    string    `json:"source,omitempty"` // e.g. "seed", "wallet-verify"
	CreatedAt time.Time `json:"created_at"`
}

// APIKeyValidator is the minimal interface the HTTP middleware needs.
type APIKeyValidator interface {
	Validate(key string) bool
	Get(key string) (APIKey, bool)
}

// APIKeyIssuer creates new API keys after a successful wallet verification.
type APIKeyIssuer interface {
	Issue(wallet, source string) (APIKey, error)
}

// APIKeyStore provides in-memory API key validation and issuance.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

// Seed adds a pre-existing key (e.g. from env) for operator access.
func (s *APIKeyStore) Seed(key, source string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = APIKey{Key: key, Source: source, CreatedAt: time.Now()}
}

// Validate returns true if the key exists.
func (s *APIKeyStore) Validate(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Get returns the stored record for a key, if present.
func (s *APIKeyStore) Get(key string) (APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[key]
	return rec, ok
}

// Issue creates and stores a new API key bound to a wallet.
func (s *APIKeyStore) Issue(wallet, source string) (APIKey, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return APIKey{}, fmt.Errorf("wallet address required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Wallet: wallet, Source: source, CreatedAt: time.Now()}
	s.mu.Lock()
	s.keys[key] = rec
	s.mu.Unlock()
	return rec, nil
}

func generateKey() (string, error) {
	b := make([]byte, 32) // 256-bit key
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
