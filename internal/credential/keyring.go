package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "humanloop"

// Keyring keys for the mail passwords.
const (
	KeySMTPPassword = "email.smtp.password"
	KeyIMAPPassword = "email.imap.password"
)

// PasswordEnv is consulted before the keyring for both mail passwords.
const PasswordEnv = "HUMANLOOP_EMAIL_PASSWORD"

// ErrNotFound is returned when the keyring has no entry for a key.
var ErrNotFound = errors.New("credential not found")

// Vault stores secrets in the OS keyring.
type Vault struct {
	ring keyring.Keyring
}

// Open returns a Vault backed by the first available system keyring.
func Open() (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/humanloop/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("humanloop-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Vault{ring: ring}, nil
}

// NewVault wraps an existing keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Get retrieves a credential value by key.
func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (v *Vault) Set(key string, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key.
func (v *Vault) Delete(key string) error {
	err := v.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Resolve returns configured when set, otherwise the value of envVar, and
// otherwise the keyring entry for key. A missing entry yields "" so that
// settings validation can report it. A nil Vault skips the keyring.
func (v *Vault) Resolve(configured, envVar, key string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if envVar != "" {
		if value := os.Getenv(envVar); value != "" {
			return value, nil
		}
	}
	if v == nil {
		return "", nil
	}

	value, err := v.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
