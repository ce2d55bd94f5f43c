package localgpt

import (
	"context"
	"path/filepath"

	"github.com/localgpt/localgpt/localization"
)

// WithLocalization reads culture resources from dir. An empty dir uses
// Localization.ResourcesPath, relative to the configuration directory.
func WithLocalization(dir string) Option {
	return func(ctx context.Context, a *App) {
		cfg := a.Config(ctx)

		if dir == "" {
			dir = cfg.Localization.ResourcesPath
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(a.resolver.Dir(), dir)
			}
		}

		a.resourcesDir = dir
		a.catalog = localization.NewCatalog(dir, cfg.Localization.DefaultCulture)
		a.culture = localization.NewSwitch(a.catalog, cfg.Localization.SupportedCultures)
	}
}
