// Package credentials resolves secrets by name from a small layered
// secret source: a credentials.toml file, falling back to the process
// environment, the way the teacher's binary loads .env before consulting
// os.Getenv.
package credentials

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store resolves named secrets.
type Store struct {
	values map[string]string
}

// Load reads .env (if present) into the process environment, then loads
// path (if present) as a TOML file of secret name -> value pairs.
// A missing path is not an error; a malformed one is.
func Load(path string) (*Store, error) {
	_ = godotenv.Load()

	s := &Store{values: make(map[string]string)}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return s, nil
}

// Get resolves name from the credentials file first, then the environment.
// It returns "" if the secret is not present anywhere.
func (s *Store) Get(name string) string {
	if s != nil {
		if v, ok := s.values[name]; ok && v != "" {
			return v
		}
	}
	return os.Getenv(name)
}

// Require resolves name, failing as a ConfigurationError-shaped error
// (via the returned plain error) if it is missing.
func (s *Store) Require(name string) (string, error) {
	v := s.Get(name)
	if v == "" {
		return "", fmt.Errorf("missing required secret: %s", name)
	}
	return v, nil
}
