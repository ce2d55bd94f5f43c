// Package settings persists the per-user settings file.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/internal/atomicfile"
	"github.com/localgpt/localgpt/workerpool"
)

const (
	FallbackLanguage = "en-us"

	saveJobName           = "settings.save"
	defaultSaveRetryCount = 2
)

// UserSettings is the record stored in settings.json. Field order is the
// order written to disk.
type UserSettings struct {
	Language            string `json:"Language"`
	LastOpenedDirectory string `json:"LastOpenedDirectory"`
	LastSelectedModel   string `json:"LastSelectedModel"`
}

// EffectiveLanguage returns Language, or defaultLanguage when it is blank.
func (u UserSettings) EffectiveLanguage(defaultLanguage string) string {
	if u.Language != "" {
		return u.Language
	}
	if defaultLanguage != "" {
		return defaultLanguage
	}
	return FallbackLanguage
}

// Option configures a Store.
type Option func(s *Store)

// WithDefaultLanguage sets the language used when the file has none.
func WithDefaultLanguage(language string) Option {
	return func(s *Store) {
		if language != "" {
			s.defaults.Language = language
		}
	}
}

// WithWorkerPool runs background saves on jobs instead of bare goroutines.
func WithWorkerPool(jobs workerpool.Manager) Option {
	return func(s *Store) {
		s.jobs = jobs
	}
}

// WithSaveRetries sets how often a failed background save is retried.
func WithSaveRetries(retries int) Option {
	return func(s *Store) {
		if retries >= 0 {
			s.retries = retries
		}
	}
}

// Store loads the settings once and keeps them for the process lifetime.
// Writes to the file are serialized; a background save that was overtaken by
// a newer one is skipped.
type Store struct {
	path     string
	defaults UserSettings
	jobs     workerpool.Manager
	retries  int

	mu      sync.RWMutex
	loaded  bool
	current UserSettings

	seq     atomic.Uint64
	writeMu sync.Mutex
	written uint64

	pendingMu sync.Mutex
	pending   []workerpool.Job
}

// NewStore creates a store for the file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		defaults: UserSettings{Language: FallbackLanguage},
		retries:  defaultSaveRetryCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Defaults returns the settings used when the file is missing or unreadable.
func (s *Store) Defaults() UserSettings {
	return s.defaults
}

// Load returns the settings, reading the file on the first call only.
// A missing or unreadable file yields the defaults and is logged.
func (s *Store) Load(ctx context.Context) UserSettings {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.current
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.current = s.read(ctx)
		s.loaded = true
	}
	return s.current
}

// Settings returns the in-memory settings, loading them if needed.
func (s *Store) Settings() UserSettings {
	return s.Load(context.Background())
}

// EffectiveLanguage is the stored language, or the configured default
// language when none is stored.
func (s *Store) EffectiveLanguage(ctx context.Context, cfg *config.AppConfig) string {
	var defaultLanguage string
	if cfg != nil {
		defaultLanguage = cfg.AppSettings.DefaultLanguage
	}
	return s.Load(ctx).EffectiveLanguage(defaultLanguage)
}

// Update applies mutate to the in-memory settings and saves them in the background.
func (s *Store) Update(ctx context.Context, mutate func(u *UserSettings)) UserSettings {
	s.Load(ctx)

	s.mu.Lock()
	next := s.current
	mutate(&next)
	s.current = next
	s.mu.Unlock()

	s.SaveAsync(ctx, next)
	return next
}

// Save replaces the in-memory settings and writes them to disk. Failures are
// logged and reported as false; the in-memory value is kept either way.
func (s *Store) Save(ctx context.Context, u UserSettings) bool {
	return s.SaveErr(ctx, u) == nil
}

// SaveErr is Save returning the write error.
func (s *Store) SaveErr(ctx context.Context, u UserSettings) error {
	s.remember(u)
	return s.persist(ctx, u, s.seq.Add(1))
}

// SaveAsync replaces the in-memory settings and writes them without blocking
// the caller. Use Flush to wait for pending writes.
func (s *Store) SaveAsync(ctx context.Context, u UserSettings) {
	s.remember(u)

	seq := s.seq.Add(1)
	ctx = context.WithoutCancel(ctx)
	job := workerpool.NewJobWithRetry(saveJobName, func(ctx context.Context) error {
		return s.persist(ctx, u, seq)
	}, s.retries)

	s.track(job)

	if s.jobs != nil {
		err := s.jobs.Submit(ctx, job)
		if err == nil {
			return
		}
		util.Log(ctx).WithError(err).Warn("could not queue settings save, writing directly")
	}

	go func() {
		job.IncreaseRuns()
		job.Finish(job.F()(ctx))
	}()
}

// Flush waits until every background save has finished or ctx ends.
func (s *Store) Flush(ctx context.Context) error {
	s.pendingMu.Lock()
	jobs := slices.Clone(s.pending)
	s.pendingMu.Unlock()

	for _, job := range jobs {
		if err := workerpool.Await(ctx, job); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	s.pendingMu.Lock()
	s.pending = slices.DeleteFunc(s.pending, func(j workerpool.Job) bool {
		select {
		case <-j.Done():
			return true
		default:
			return false
		}
	})
	s.pendingMu.Unlock()
	return nil
}

// Close flushes pending saves.
func (s *Store) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *Store) remember(u UserSettings) {
	s.mu.Lock()
	s.current = u
	s.loaded = true
	s.mu.Unlock()
}

func (s *Store) track(job workerpool.Job) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, job)
	s.pendingMu.Unlock()
}

func (s *Store) read(ctx context.Context) UserSettings {
	log := util.Log(ctx).WithField("path", s.path)
	u := s.defaults

	buf, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Settings file not found, using defaults")
		} else {
			log.WithError(err).Error("Error loading settings, using defaults")
		}
		return u
	}

	if err = json.Unmarshal(buf, &u); err != nil {
		log.WithError(err).Error("Error loading settings, using defaults")
		return s.defaults
	}
	return u
}

// persist writes u unless a newer snapshot has already been written.
func (s *Store) persist(ctx context.Context, u UserSettings, seq uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	log := util.Log(ctx).WithField("path", s.path)
	if seq < s.written {
		log.WithField("seq", seq).Debug("skipping stale settings snapshot")
		return nil
	}

	buf, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err = atomicfile.Write(s.path, append(buf, '\n')); err != nil {
		log.WithError(err).Error("Error saving settings")
		return err
	}

	s.written = seq
	log.Debug("Settings saved")
	return nil
}
