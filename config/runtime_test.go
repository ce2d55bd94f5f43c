package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"

	"github.com/localgpt/localgpt/config"
)

func TestBootstrapWorkerPoolGetters(t *testing.T) {
	b := &config.Bootstrap{WorkerPoolCapacity: 0, WorkerPoolCount: 2, WorkerPoolExpiryDuration: "bogus"}

	require.Equal(t, 1, b.GetCPUFactor())
	require.Equal(t, 8, b.GetCapacity())
	require.Equal(t, 2, b.GetCount())
	require.Equal(t, 10*time.Second, b.GetExpiryDuration())

	b.WorkerPoolExpiryDuration = "3s"
	require.Equal(t, 3*time.Second, b.GetExpiryDuration())
}

func TestResolveSettingsPathOverride(t *testing.T) {
	b := &config.Bootstrap{SettingsPath: "/tmp/custom/settings.json"}
	path, err := b.ResolveSettingsPath()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom/settings.json", path)
}

func TestSessionDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.AppSettings.DefaultSessionDirectory = "/data/sessions"

	dir, err := cfg.SessionDirectory()
	require.NoError(t, err)
	require.Equal(t, "/data/sessions", dir)
}

func TestLogFileMaxSizeRoundsUp(t *testing.T) {
	cfg := config.Default()

	cfg.Logging.FileSizeLimitBytes = 1
	require.Equal(t, 1, cfg.Logging.MaxSizeMB())

	cfg.Logging.FileSizeLimitBytes = 0
	require.Equal(t, 0, cfg.Logging.MaxSizeMB())

	cfg.Logging.FileSizeLimitBytes = 3*1024*1024 + 1
	require.Equal(t, 4, cfg.Logging.MaxSizeMB())
}

func TestCredentialsFallbackChain(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	ctx := context.Background()

	ring := keyring.NewArrayKeyring(nil)
	creds := config.NewCredentialsWithKeyring(ring)

	cfg := config.Default()
	_, err := creds.APIKey(ctx, &cfg)
	require.ErrorIs(t, err, config.ErrCredentialNotFound)

	require.NoError(t, creds.StoreAPIKey(ctx, "sk-ring"))
	key, err := creds.APIKey(ctx, &cfg)
	require.NoError(t, err)
	require.Equal(t, "sk-ring", key)

	t.Setenv(config.APIKeyEnv, "sk-env")
	key, err = creds.APIKey(ctx, &cfg)
	require.NoError(t, err)
	require.Equal(t, "sk-env", key)

	cfg.OpenAi.ApiKey = "sk-config"
	key, err = creds.APIKey(ctx, &cfg)
	require.NoError(t, err)
	require.Equal(t, "sk-config", key)

	require.NoError(t, creds.RemoveAPIKey(ctx))
	t.Setenv(config.APIKeyEnv, "")
	_, err = creds.APIKey(ctx, nil)
	require.ErrorIs(t, err, config.ErrCredentialNotFound)
}

func TestKeyringConfig(t *testing.T) {
	t.Setenv(config.KeyringPasswordEnv, "secret")

	cfg := config.KeyringConfig("/data")
	require.Equal(t, "localGpt", cfg.ServiceName)
	require.Equal(t, "/data/keyring", cfg.FileDir)

	pw, err := cfg.FilePasswordFunc("unlock")
	require.NoError(t, err)
	require.Equal(t, "secret", pw)
}
