package localgpt

import (
	"context"

	"github.com/localgpt/localgpt/settings"
)

const fallbackSettingsPath = "settings.json"

// WithSettingsPath stores the user settings at path. An empty path uses
// LOCALGPT_SETTINGS_PATH, else <UserConfigDir>/localGpt/settings.json.
func WithSettingsPath(path string) Option {
	return func(ctx context.Context, a *App) {
		if path == "" {
			resolved, err := a.bootstrap.ResolveSettingsPath()
			if err != nil {
				a.Log(ctx).WithError(err).Warn("no user configuration directory, keeping settings in the working directory")
				resolved = fallbackSettingsPath
			}
			path = resolved
		}

		cfg := a.Config(ctx)
		a.ensureJobs(ctx)

		a.settingsPath = path
		a.settings = settings.NewStore(path,
			settings.WithDefaultLanguage(cfg.AppSettings.DefaultLanguage),
			settings.WithWorkerPool(a.jobs),
		)
	}
}
