package localization

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/internal/fswatch"
)

var ErrUnsupportedCulture = errors.New("unsupported culture")

// ChangeKind names what a Change invalidates.
type ChangeKind int

const (
	// ChangeStrings means every resolved string may have changed.
	ChangeStrings ChangeKind = iota + 1
	// ChangeCultureName means the active culture name changed.
	ChangeCultureName
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeStrings:
		return "strings"
	case ChangeCultureName:
		return "culture-name"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after the catalog has been reloaded.
type Change struct {
	Kind     ChangeKind
	Culture  string
	Previous string
}

type subscriber struct {
	id int
	fn func(Change)
}

// Switch owns the active culture of a Catalog.
type Switch struct {
	catalog   *Catalog
	supported []string

	mu sync.Mutex

	subMu  sync.RWMutex
	subs   []subscriber
	nextID int
}

// NewSwitch creates a switch over catalog limited to supported. The default
// culture of the catalog is always supported. The initial culture is the
// catalog's active culture.
func NewSwitch(catalog *Catalog, supported []string) *Switch {
	cultures := []string{catalog.DefaultCulture()}
	for _, id := range supported {
		c := Canonical(id)
		if c == "" || slices.Contains(cultures, c) {
			continue
		}
		cultures = append(cultures, c)
	}

	return &Switch{catalog: catalog, supported: cultures}
}

func (s *Switch) Catalog() *Catalog {
	return s.catalog
}

func (s *Switch) CurrentCultureName() string {
	return s.catalog.ActiveCulture()
}

// SupportedCultures returns the canonical supported cultures, default first.
func (s *Switch) SupportedCultures() []string {
	return slices.Clone(s.supported)
}

func (s *Switch) IsSupported(id string) bool {
	c := Canonical(id)
	return c != "" && slices.Contains(s.supported, c)
}

// SetCulture makes id the active culture, reloads its strings and notifies
// subscribers with ChangeStrings then ChangeCultureName.
// It returns false without any change when id is not supported. Setting the
// active culture again does nothing and returns true.
// Subscribers run on the calling goroutine and must not call SetCulture.
func (s *Switch) SetCulture(ctx context.Context, id string) bool {
	return s.Select(ctx, id) == nil
}

// Select is SetCulture reporting ErrUnsupportedCulture instead of false.
func (s *Switch) Select(ctx context.Context, id string) error {
	log := util.Log(ctx).WithField("culture", id)

	culture := Canonical(id)
	if culture == "" || !slices.Contains(s.supported, culture) {
		log.WithField("supported", s.supported).Warn("Unsupported culture requested")
		return fmt.Errorf("%w: %q", ErrUnsupportedCulture, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.catalog.ActiveCulture()
	if previous == culture {
		return nil
	}

	s.catalog.Load(ctx, culture)
	s.catalog.setActive(culture)

	log.WithField("previous", previous).Info("Culture changed")

	s.notify(Change{Kind: ChangeStrings, Culture: culture, Previous: previous})
	s.notify(Change{Kind: ChangeCultureName, Culture: culture, Previous: previous})
	return nil
}

// Subscribe registers fn for change notifications, in registration order.
// The returned function removes the subscription.
func (s *Switch) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

func (s *Switch) notify(change Change) {
	s.subMu.RLock()
	subs := slices.Clone(s.subs)
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.fn(change)
	}
}

// Watch reloads the catalog when resource files change and notifies
// subscribers with ChangeStrings. It returns once the watcher is running;
// watching stops with ctx.
func (s *Switch) Watch(ctx context.Context) error {
	w, err := fswatch.New(s.catalog.Dir(), isResourceFile, fswatch.DefaultDebounce)
	if err != nil {
		return err
	}

	go w.Run(ctx, func(ctx context.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()

		util.Log(ctx).WithField("dir", s.catalog.Dir()).Info("Localization resources changed on disk, reloading")
		s.catalog.LoadAll(ctx)

		culture := s.catalog.ActiveCulture()
		s.notify(Change{Kind: ChangeStrings, Culture: culture, Previous: culture})
	})
	return nil
}
