// Package auth validates the bearer tokens presented during the wire
// protocol handshake.
package auth

import (
	"crypto/subtle"
	"fmt"
)

// Credential binds a client identity to its bearer token. The name is what
// other clients see in a "session_busy" rejection.
type Credential struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// Store holds the accepted credentials. Immutable after construction, safe
// for concurrent use.
type Store struct {
	creds []Credential
}

// NewStore builds a Store. Every credential needs a non-empty name and
// token, and names must be unique.
func NewStore(creds ...Credential) (*Store, error) {
	seen := make(map[string]struct{}, len(creds))
	for i, c := range creds {
		if c.Name == "" {
			return nil, fmt.Errorf("auth: credential %d has no name", i)
		}
		if c.Token == "" {
			return nil, fmt.Errorf("auth: credential %q has no token", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("auth: duplicate credential name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return &Store{creds: append([]Credential(nil), creds...)}, nil
}

// Authenticate returns the client name for token. The scan always visits
// every credential with a constant-time comparison so response timing leaks
// neither token contents nor which entry matched.
func (s *Store) Authenticate(token string) (name string, ok bool) {
	tb := []byte(token)
	for _, c := range s.creds {
		if subtle.ConstantTimeCompare(tb, []byte(c.Token)) == 1 && !ok {
			name, ok = c.Name, true
		}
	}
	return name, ok
}
