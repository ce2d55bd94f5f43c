package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
	"github.com/pitabwire/util"
)

const (
	keyringServiceName = "localGpt"
	keyringDirName     = "keyring"

	// APIKeyItem is the keyring item holding the OpenAI api key.
	APIKeyItem = "openai.api_key"
	// APIKeyEnv is the conventional variable consulted before the keyring.
	APIKeyEnv = "OPENAI_API_KEY"
	// KeyringPasswordEnv unlocks the encrypted file backend when no OS keyring exists.
	KeyringPasswordEnv = "LOCALGPT_KEYRING_PASSWORD"
)

// KeyringConfig returns the keyring configuration used by the application.
// The encrypted file backend lives under <dataDir>/keyring.
func KeyringConfig(dataDir string) keyring.Config {
	return keyring.Config{
		ServiceName:              keyringServiceName,
		KeychainTrustApplication: true,
		FileDir:                  filepath.Join(dataDir, keyringDirName),
		FilePasswordFunc: func(prompt string) (string, error) {
			if pw := os.Getenv(KeyringPasswordEnv); pw != "" {
				return pw, nil
			}
			return keyring.TerminalPrompt(prompt)
		},
	}
}

// Credentials resolves secrets that should not live in appsettings files.
type Credentials struct {
	open    func() (keyring.Keyring, error)
	once    sync.Once
	ring    keyring.Keyring
	openErr error
}

// NewCredentials opens the keyring lazily with cfg on first use.
func NewCredentials(cfg keyring.Config) *Credentials {
	return &Credentials{
		open: func() (keyring.Keyring, error) {
			return keyring.Open(cfg)
		},
	}
}

// NewCredentialsWithKeyring uses an already opened keyring.
func NewCredentialsWithKeyring(ring keyring.Keyring) *Credentials {
	return &Credentials{
		open: func() (keyring.Keyring, error) {
			return ring, nil
		},
	}
}

func (c *Credentials) keyring() (keyring.Keyring, error) {
	c.once.Do(func() {
		c.ring, c.openErr = c.open()
	})
	return c.ring, c.openErr
}

// APIKey returns the configured api key, falling back to OPENAI_API_KEY and then the keyring.
func (c *Credentials) APIKey(ctx context.Context, cfg *AppConfig) (string, error) {
	if cfg != nil && cfg.OpenAi.ApiKey != "" {
		return cfg.OpenAi.ApiKey, nil
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		return key, nil
	}

	ring, err := c.keyring()
	if err != nil {
		util.Log(ctx).WithError(err).Debug("keyring is not available")
		return "", fmt.Errorf("%w: %w", ErrCredentialNotFound, err)
	}

	item, err := ring.Get(APIKeyItem)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("read %s from keyring: %w", APIKeyItem, err)
	}
	return string(item.Data), nil
}

// StoreAPIKey saves key in the keyring so it can be dropped from appsettings.
func (c *Credentials) StoreAPIKey(ctx context.Context, key string) error {
	ring, err := c.keyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         APIKeyItem,
		Data:        []byte(key),
		Label:       "localGpt OpenAI API key",
		Description: "API key used by localGpt",
	})
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not store api key in keyring")
		return err
	}
	return nil
}

// RemoveAPIKey deletes the stored key. A missing key is not an error.
func (c *Credentials) RemoveAPIKey(_ context.Context) error {
	ring, err := c.keyring()
	if err != nil {
		return err
	}

	err = ring.Remove(APIKeyItem)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
