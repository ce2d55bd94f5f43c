package localgpt

import (
	"context"
	"maps"

	"github.com/99designs/keyring"

	"github.com/localgpt/localgpt/config"
)

// WithEnviron replaces the process environment as the source of configuration
// variables. It must come before any option that resolves the configuration.
func WithEnviron(environ map[string]string) Option {
	return func(_ context.Context, a *App) {
		a.environ = maps.Clone(environ)
	}
}

// WithConfigDir reads the appsettings files from dir.
func WithConfigDir(dir string, opts ...config.ResolverOption) Option {
	return func(_ context.Context, a *App) {
		a.configDir = dir

		var resolverOpts []config.ResolverOption
		if a.environ != nil {
			resolverOpts = append(resolverOpts, config.WithEnviron(a.environ))
		}
		resolverOpts = append(resolverOpts, opts...)

		a.resolver = config.NewResolver(dir, resolverOpts...)
		a.environment = a.resolver.EnvironmentName()
	}
}

// WithConfig overrides the resolved configuration with cfg.
func WithConfig(cfg config.AppConfig) Option {
	return func(ctx context.Context, a *App) {
		a.ensureResolver(ctx)
		a.resolver.Replace(cfg)
	}
}

// WithWatch reloads configuration and localization resources when their files change.
func WithWatch(enabled bool) Option {
	return func(_ context.Context, a *App) {
		a.watch = enabled
	}
}

// WithCredentials reads secrets from ring. A nil ring opens the OS keyring on
// first use, with an encrypted file fallback in the application data directory.
func WithCredentials(ring keyring.Keyring) Option {
	return func(ctx context.Context, a *App) {
		if ring != nil {
			a.credentials = config.NewCredentialsWithKeyring(ring)
			return
		}

		a.ensureResolver(ctx)
		dataDir, err := config.AppDataDir()
		if err != nil {
			a.Log(ctx).WithError(err).Warn("no application data directory, keeping the keyring file beside the configuration")
			dataDir = a.resolver.Dir()
		}
		a.credentials = config.NewCredentials(config.KeyringConfig(dataDir))
	}
}

func (a *App) ensureResolver(ctx context.Context) {
	if a.resolver == nil {
		WithConfigDir(a.configDir)(ctx, a)
	}
}

// Config returns a copy of the effective configuration.
func (a *App) Config(ctx context.Context) config.AppConfig {
	a.ensureResolver(ctx)
	return a.resolver.Resolve(ctx)
}

// ConfigResolver exposes the resolver for reloads and saves.
func (a *App) ConfigResolver() *config.Resolver {
	return a.resolver
}

// Bootstrap returns the LOCALGPT_* process knobs.
func (a *App) Bootstrap() config.Bootstrap {
	return a.bootstrap
}
