package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	appDirName          = "localGpt"
	settingsFileName    = "settings.json"
	sessionsDirName     = "sessions"
	defaultPoolExpiry   = 10 * time.Second
	defaultPoolCapacity = 8
)

// LoadBootstrap reads process knobs from the environment.
func LoadBootstrap() (Bootstrap, error) {
	return FromEnv[Bootstrap]()
}

type ConfigurationWorkerPool interface {
	GetCPUFactor() int
	GetCapacity() int
	GetCount() int
	GetExpiryDuration() time.Duration
}

var _ ConfigurationWorkerPool = new(Bootstrap)

// GetCPUFactor is fixed at one: the pool only serializes background disk writes.
func (b *Bootstrap) GetCPUFactor() int {
	return 1
}

func (b *Bootstrap) GetCapacity() int {
	if b.WorkerPoolCapacity <= 0 {
		return defaultPoolCapacity
	}
	return b.WorkerPoolCapacity
}

func (b *Bootstrap) GetCount() int {
	return b.WorkerPoolCount
}

func (b *Bootstrap) GetExpiryDuration() time.Duration {
	if b.WorkerPoolExpiryDuration != "" {
		duration, err := time.ParseDuration(b.WorkerPoolExpiryDuration)
		if err == nil {
			return duration
		}
	}

	return defaultPoolExpiry
}

// AppDataDir is the per-user application data directory, <UserConfigDir>/localGpt.
func AppDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// ResolveSettingsPath resolves the user settings file, honoring LOCALGPT_SETTINGS_PATH.
func (b *Bootstrap) ResolveSettingsPath() (string, error) {
	if b.SettingsPath != "" {
		return b.SettingsPath, nil
	}
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFileName), nil
}

// SessionDirectory resolves where conversations are stored.
func (c *AppConfig) SessionDirectory() (string, error) {
	if c.AppSettings.DefaultSessionDirectory != "" {
		return c.AppSettings.DefaultSessionDirectory, nil
	}
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionsDirName), nil
}
