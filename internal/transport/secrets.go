package transport

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
)

type keyringOps interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Set(service, user, password string) error { return keyring.Set(service, user, password) }

// SecretStore resolves the relay password. The environment variable wins,
// otherwise the OS keyring entry for (service, username) is used.
type SecretStore struct {
	Service string
	EnvVar  string
	ring    keyringOps
}

func NewSecretStore(service, envVar string) *SecretStore {
	return &SecretStore{Service: service, EnvVar: envVar, ring: osKeyring{}}
}

// Password returns ErrMissingCredentials when no secret is configured anywhere.
func (s *SecretStore) Password(username string) (string, error) {
	if s.EnvVar != "" {
		if v, ok := os.LookupEnv(s.EnvVar); ok && v != "" {
			return v, nil
		}
	}
	if username == "" {
		return "", appErrors.ErrMissingCredentials
	}
	secret, err := s.ring.Get(s.Service, username)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && secret == "") {
		return "", appErrors.ErrMissingCredentials
	}
	if err != nil {
		return "", fmt.Errorf("read keyring %s: %w", s.Service, err)
	}
	return secret, nil
}

// Store saves the password for username in the OS keyring.
func (s *SecretStore) Store(username, password string) error {
	if username == "" {
		return appErrors.NewValidation("username", "required to store a relay password")
	}
	return s.ring.Set(s.Service, username, password)
}
