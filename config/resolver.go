package config

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/internal/atomicfile"
	"github.com/localgpt/localgpt/internal/fswatch"
)

const dotEnvFileName = ".env"

// Resolver merges hard-coded defaults, the base file, the environment specific
// file and environment variables into one AppConfig, highest last.
// The first successful resolution is cached; Reload replaces it.
type Resolver struct {
	dir         string
	environ     map[string]string
	envName     string
	readDotEnv  bool
	mu          sync.RWMutex
	current     *AppConfig
	basePath    string
	sourcesUsed []string
}

type ResolverOption func(r *Resolver)

// WithEnviron replaces the process environment as the source of variables.
func WithEnviron(environ map[string]string) ResolverOption {
	return func(r *Resolver) {
		r.environ = maps.Clone(environ)
	}
}

// WithEnvironmentName pins the name used for appsettings.{name}.json.
func WithEnvironmentName(name string) ResolverOption {
	return func(r *Resolver) {
		r.envName = name
	}
}

// WithDotEnv toggles reading <dir>/.env beneath the real environment.
func WithDotEnv(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.readDotEnv = enabled
	}
}

// NewResolver creates a resolver reading appsettings files from dir.
func NewResolver(dir string, opts ...ResolverOption) *Resolver {
	if dir == "" {
		dir = "."
	}

	r := &Resolver{
		dir:        dir,
		readDotEnv: true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.environ == nil {
		r.environ = env.ToMap(os.Environ())
	}
	return r
}

// Dir is the directory holding the configuration files.
func (r *Resolver) Dir() string {
	return r.dir
}

// BasePath is the file Save writes to.
func (r *Resolver) BasePath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.basePath != "" {
		return r.basePath
	}
	return filepath.Join(r.dir, BaseFileName+".json")
}

// Sources lists the files that contributed to the cached configuration.
func (r *Resolver) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sourcesUsed)
}

// Resolve returns the effective configuration, resolving it on first use.
// It never fails: problems are logged and the affected layer is skipped.
func (r *Resolver) Resolve(ctx context.Context) AppConfig {
	r.mu.RLock()
	if r.current != nil {
		cfg := r.current.Clone()
		r.mu.RUnlock()
		return cfg
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		r.resolveLocked(ctx)
	}
	return r.current.Clone()
}

// Reload re-runs every layer and replaces the cached configuration.
func (r *Resolver) Reload(ctx context.Context) AppConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolveLocked(ctx)
	return r.current.Clone()
}

// Update mutates the cached configuration in place. Persist it with Save.
func (r *Resolver) Update(ctx context.Context, mutate func(cfg *AppConfig)) AppConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		r.resolveLocked(ctx)
	}
	mutate(r.current)
	return r.current.Clone()
}

// Replace installs cfg as the cached configuration. Like a resolved one it
// always carries models and keeps the default culture supported.
func (r *Resolver) Replace(cfg AppConfig) AppConfig {
	next := cfg.Clone()
	next.ensureModels()
	next.Localization.normalize(Default().Localization)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &next
	return next.Clone()
}

// Save writes the cached configuration back to the base file.
func (r *Resolver) Save(ctx context.Context) error {
	log := util.Log(ctx)

	r.mu.RLock()
	if r.current == nil {
		r.mu.RUnlock()
		log.Warn("Cannot save configuration before it is resolved")
		return ErrConfigNotResolved
	}
	cfg := r.current.Clone()
	r.mu.RUnlock()

	path := r.BasePath()
	log = log.WithField("path", path)
	log.Info("Saving application configuration")

	data, err := encodeLayer(path, &cfg)
	if err != nil {
		log.WithError(err).Error("Error encoding application configuration")
		return err
	}

	if err = atomicfile.Write(path, data); err != nil {
		log.WithError(err).Error("Error saving application configuration")
		return err
	}

	log.Info("Application configuration saved successfully")
	return nil
}

// EnvironmentName is the name selecting the environment specific file.
func (r *Resolver) EnvironmentName() string {
	if r.envName != "" {
		return r.envName
	}

	b := Bootstrap{}
	vars := r.variables(context.Background())
	b.Environment = vars["LOCALGPT_ENVIRONMENT"]
	b.DotnetEnvironment = vars["DOTNET_ENVIRONMENT"]
	return b.EnvironmentName()
}

// Watch reloads the configuration whenever an appsettings file or .env in the
// configuration directory changes, then hands the new value to onChange.
// It returns once the watcher is running; watching stops with ctx.
func (r *Resolver) Watch(ctx context.Context, onChange func(ctx context.Context, cfg AppConfig)) error {
	w, err := fswatch.New(r.dir, func(name string) bool {
		return strings.HasPrefix(name, BaseFileName) || name == dotEnvFileName
	}, fswatch.DefaultDebounce)
	if err != nil {
		return err
	}

	go w.Run(ctx, func(ctx context.Context) {
		util.Log(ctx).WithField("dir", r.dir).Info("Configuration changed on disk, reloading")
		cfg := r.Reload(ctx)
		if onChange != nil {
			onChange(ctx, cfg)
		}
	})
	return nil
}

func (r *Resolver) resolveLocked(ctx context.Context) {
	log := util.Log(ctx)
	log.Info("Loading application configuration")

	cfg := Default()
	var sources []string

	r.basePath = ""
	if path, ok := findLayerFile(r.dir, BaseFileName); ok {
		r.basePath = path
		if r.applyFile(ctx, path, &cfg) {
			sources = append(sources, path)
		}
	} else {
		log.WithField("dir", r.dir).Warn("Base configuration file not found, using defaults")
	}

	envName := r.EnvironmentName()
	if path, ok := findLayerFile(r.dir, BaseFileName+"."+envName); ok {
		if r.applyFile(ctx, path, &cfg) {
			sources = append(sources, path)
		}
	}

	// A malformed variable keeps its field from the lower layers; every other
	// variable still applies.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: r.variables(ctx)}); err != nil {
		log.WithError(err).Error("Error applying environment variables to configuration")
	}

	if cfg.ensureModels() {
		log.Info("No models configured, adding defaults")
	}
	cfg.Localization.normalize(Default().Localization)

	r.current = &cfg
	r.sourcesUsed = sources

	log.WithField("environment", envName).
		WithField("models", len(cfg.OpenAi.Models)).
		Info("Application configuration loaded successfully")
}

// applyFile decodes path over cfg. A broken file leaves cfg untouched.
func (r *Resolver) applyFile(ctx context.Context, path string, cfg *AppConfig) bool {
	next := cfg.Clone()
	if err := decodeLayer(path, &next); err != nil {
		util.Log(ctx).WithError(err).WithField("path", path).Error("Error loading configuration file")
		return false
	}
	*cfg = next
	return true
}

// variables merges <dir>/.env beneath the real environment.
func (r *Resolver) variables(ctx context.Context) map[string]string {
	if !r.readDotEnv {
		return r.environ
	}

	path := filepath.Join(r.dir, dotEnvFileName)
	fromFile, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			util.Log(ctx).WithError(err).WithField("path", path).Warn("Could not read .env file")
		}
		return r.environ
	}

	merged := make(map[string]string, len(fromFile)+len(r.environ))
	maps.Copy(merged, fromFile)
	maps.Copy(merged, r.environ)
	return merged
}

// normalize keeps the default culture inside the supported set.
func (l *LocalizationOptions) normalize(fallback LocalizationOptions) {
	if l.DefaultCulture == "" {
		l.DefaultCulture = fallback.DefaultCulture
	}

	cultures := make([]string, 0, len(l.SupportedCultures)+1)
	for _, c := range l.SupportedCultures {
		c = strings.TrimSpace(c)
		if c == "" || slices.ContainsFunc(cultures, func(o string) bool { return strings.EqualFold(o, c) }) {
			continue
		}
		cultures = append(cultures, c)
	}
	if !slices.ContainsFunc(cultures, func(o string) bool { return strings.EqualFold(o, l.DefaultCulture) }) {
		cultures = append([]string{l.DefaultCulture}, cultures...)
	}
	l.SupportedCultures = cultures

	if l.ResourcesPath == "" {
		l.ResourcesPath = fallback.ResourcesPath
	}
}
