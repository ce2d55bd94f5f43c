package localgpt

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/conversation"
	"github.com/localgpt/localgpt/localization"
	"github.com/localgpt/localgpt/logging"
	"github.com/localgpt/localgpt/pricing"
	"github.com/localgpt/localgpt/settings"
	"github.com/localgpt/localgpt/workerpool"
)

type contextKey string

func (c contextKey) String() string {
	return "localgpt/" + string(c)
}

const ctxKeyApp = contextKey("appKey")

// App holds together the components of one running client.
// It is created once at startup and handed to the presentation layer.
type App struct {
	name        string
	version     string
	environment string

	bootstrap config.Bootstrap
	configDir string
	environ   map[string]string
	resolver  *config.Resolver

	logOpts []logging.Option
	logger  *logging.Logger
	log     *util.LogEntry

	poolOptions []workerpool.Option
	jobs        workerpool.Manager

	settingsPath string
	settings     *settings.Store

	resourcesDir string
	catalog      *localization.Catalog
	culture      *localization.Switch

	credentials   *config.Credentials
	tracker       *pricing.Tracker
	conversations *conversation.Store

	presenter ErrorPresenter
	watch     bool

	startupErrors []error
	startup       func(ctx context.Context, a *App)
	cleanup       func(ctx context.Context)

	cancelFunc context.CancelFunc
	stopMutex  sync.Mutex
	closed     bool
}

type Option func(ctx context.Context, a *App)

// NewApp creates the application with name and the supplied options.
// The returned context carries the app, its configuration and its logger, and
// is canceled on SIGINT or SIGTERM.
func NewApp(ctx context.Context, name string, opts ...Option) (context.Context, *App) {
	ctx, signalCancelFunc := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	defaultLogger := util.Log(ctx)
	ctx = util.ContextWithLogger(ctx, defaultLogger)

	bootstrap, err := config.LoadBootstrap()
	if err != nil {
		defaultLogger.WithError(err).Warn("could not read LOCALGPT_* variables, using defaults")
	}

	a := &App{
		name:       name,
		bootstrap:  bootstrap,
		configDir:  bootstrap.ConfigDir,
		log:        defaultLogger,
		presenter:  LogPresenter{},
		cancelFunc: signalCancelFunc,
	}

	a.Init(ctx, opts...)
	a.setup(ctx)

	ctx = ToContext(ctx, a)
	cfg := a.Config(ctx)
	ctx = config.ToContext(ctx, &cfg)
	ctx = util.ContextWithLogger(ctx, a.log)
	return ctx, a
}

// ToContext pushes the app into ctx.
func ToContext(ctx context.Context, a *App) context.Context {
	return context.WithValue(ctx, ctxKeyApp, a)
}

// FromContext obtains the app propagated through ctx.
func FromContext(ctx context.Context) *App {
	a, ok := ctx.Value(ctxKeyApp).(*App)
	if !ok {
		return nil
	}
	return a
}

// Init applies opts to the app.
func (a *App) Init(ctx context.Context, opts ...Option) {
	for _, opt := range opts {
		opt(ctx, a)
	}
}

func (a *App) Name() string {
	return a.name
}

// WithName specifies the name the app will use.
func WithName(name string) Option {
	return func(_ context.Context, a *App) {
		a.name = name
	}
}

func (a *App) Version() string {
	return a.version
}

// WithVersion specifies the release version of the app.
func WithVersion(version string) Option {
	return func(_ context.Context, a *App) {
		a.version = version
	}
}

// Environment is the configuration environment name, e.g. Production.
func (a *App) Environment() string {
	return a.environment
}

// AddStartupError records a failure found while wiring the app; Start reports it.
func (a *App) AddStartupError(err error) {
	if err != nil {
		a.startupErrors = append(a.startupErrors, err)
	}
}

// AddPreStartMethod adds f to the functions run at the end of Start.
func (a *App) AddPreStartMethod(f func(ctx context.Context, a *App)) {
	a.stopMutex.Lock()
	defer a.stopMutex.Unlock()
	if a.startup == nil {
		a.startup = f
		return
	}

	old := a.startup
	a.startup = func(ctx context.Context, app *App) { old(ctx, app); f(ctx, app) }
}

// AddCleanupMethod adds f to the functions run first by Close, newest first.
func (a *App) AddCleanupMethod(f func(ctx context.Context)) {
	a.stopMutex.Lock()
	defer a.stopMutex.Unlock()

	if a.cleanup == nil {
		a.cleanup = f
		return
	}

	old := a.cleanup
	a.cleanup = func(ctx context.Context) { f(ctx); old(ctx) }
}

// setup builds every component an option did not provide, in dependency order.
func (a *App) setup(ctx context.Context) {
	if a.resolver == nil {
		WithConfigDir(a.configDir)(ctx, a)
	}
	if a.logger == nil {
		WithLogger()(ctx, a)
	}
	if a.jobs == nil {
		WithWorkerPoolOptions()(ctx, a)
	}
	if a.settings == nil {
		WithSettingsPath(a.settingsPath)(ctx, a)
	}
	if a.catalog == nil {
		WithLocalization(a.resourcesDir)(ctx, a)
	}
	if a.credentials == nil {
		WithCredentials(nil)(ctx, a)
	}

	cfg := a.Config(ctx)
	a.tracker = pricing.NewTracker(pricing.NewEstimator(cfg.OpenAi.Models))
	a.setupConversations(ctx, &cfg)
}

func (a *App) setupConversations(ctx context.Context, cfg *config.AppConfig) {
	dir, err := cfg.SessionDirectory()
	if err != nil {
		a.Log(ctx).WithError(err).Warn("could not locate the session directory, using the working directory")
		dir = filepath.Join(".", "sessions")
	}
	a.conversations = conversation.NewStore(dir)
}

// Start runs the startup flow: resolve the configuration, load the user
// settings, then activate the stored culture when it is supported and the
// default culture otherwise. Later culture changes are saved to the settings.
func (a *App) Start(ctx context.Context) error {
	log := a.Log(ctx)

	cfg := a.Config(ctx)
	user := a.settings.Load(ctx)
	language := user.EffectiveLanguage(cfg.AppSettings.DefaultLanguage)

	a.catalog.LoadAll(ctx)
	if !a.culture.SetCulture(ctx, language) {
		log.WithField("language", language).
			WithField("default", a.catalog.DefaultCulture()).
			Warn("stored language is not supported, using the default culture")
	}

	unsubscribe := a.culture.Subscribe(func(change localization.Change) {
		if change.Kind != localization.ChangeCultureName {
			return
		}
		a.settings.Update(ctx, func(u *settings.UserSettings) {
			u.Language = change.Culture
		})
	})
	a.AddCleanupMethod(func(_ context.Context) { unsubscribe() })

	if a.watch {
		a.startWatchers(ctx)
	}

	a.stopMutex.Lock()
	startup := a.startup
	a.stopMutex.Unlock()
	if startup != nil {
		startup(ctx, a)
	}

	log.WithField("culture", a.culture.CurrentCultureName()).
		WithField("environment", a.environment).
		Info("application started")

	return errors.Join(a.startupErrors...)
}

func (a *App) startWatchers(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	a.AddCleanupMethod(func(_ context.Context) { cancel() })

	if err := a.resolver.Watch(watchCtx, func(ctx context.Context, cfg config.AppConfig) {
		a.tracker.UseEstimator(pricing.NewEstimator(cfg.OpenAi.Models))
	}); err != nil {
		a.Log(ctx).WithError(err).Warn("configuration changes will not be picked up")
	}

	if err := a.culture.Watch(watchCtx); err != nil {
		a.Log(ctx).WithError(err).Warn("localization changes will not be picked up")
	}
}

// Close flushes pending settings writes, stops watchers, shuts the worker
// pool and closes the log file. Only the first call has an effect.
func (a *App) Close(ctx context.Context) error {
	a.stopMutex.Lock()
	if a.closed {
		a.stopMutex.Unlock()
		return nil
	}
	a.closed = true
	cleanup := a.cleanup
	a.stopMutex.Unlock()

	log := a.Log(ctx)
	log.Info("application stopping")

	if cleanup != nil {
		cleanup(ctx)
	}

	var errs []error
	if a.settings != nil {
		errs = append(errs, a.settings.Close(ctx))
	}

	if a.jobs != nil {
		log.Debug("shutting down worker pool")
		errs = append(errs, a.jobs.Shutdown(ctx))
	}

	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}

	if a.cancelFunc != nil {
		a.cancelFunc()
	}

	return errors.Join(errs...)
}

// Log returns the app logger bound to ctx.
func (a *App) Log(ctx context.Context) *util.LogEntry {
	return a.log.WithContext(ctx)
}

func (a *App) Settings() *settings.Store {
	return a.settings
}

func (a *App) Catalog() *localization.Catalog {
	return a.catalog
}

func (a *App) Culture() *localization.Switch {
	return a.culture
}

// T resolves a UI string in the active culture.
func (a *App) T(key string) string {
	return a.catalog.Resolve(key)
}

func (a *App) Credentials() *config.Credentials {
	return a.credentials
}

func (a *App) Costs() *pricing.Tracker {
	return a.tracker
}

func (a *App) Conversations() *conversation.Store {
	return a.conversations
}

func (a *App) WorkManager() workerpool.Manager {
	return a.jobs
}
