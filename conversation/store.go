package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/internal/atomicfile"
)

const fileExt = ".json"

var ErrNotFound = errors.New("conversation not found")

// Summary is the listing entry of a saved conversation.
type Summary struct {
	ID        uuid.UUID
	Title     string
	Exchanges int
	UpdatedAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(s *Store)

// WithClock sets the time source used to stamp saves.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Store keeps one JSON file per conversation in a session directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+fileExt)
}

// Save writes c, assigning an ID on first save and stamping its update time.
// c is only changed once the file has been written.
func (s *Store) Save(ctx context.Context, c *Conversation) error {
	next := *c
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}

	now := s.now().UTC()
	meta := Metadata{CreatedAtUtc: now}
	if c.Metadata != nil {
		meta = *c.Metadata
	}
	meta.UpdatedAtUtc = now
	next.Metadata = &meta

	buf, err := next.MarshalIndent()
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", next.ID, err)
	}

	if err = atomicfile.Write(s.path(next.ID), buf); err != nil {
		util.Log(ctx).WithError(err).WithField("conversation", next.ID.String()).Error("Error saving conversation")
		return err
	}

	c.ID = next.ID
	if c.Metadata == nil {
		c.Metadata = next.Metadata
	} else {
		c.Metadata.UpdatedAtUtc = now
	}
	return nil
}

func (s *Store) Load(_ context.Context, id uuid.UUID) (*Conversation, error) {
	buf, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var c Conversation
	if err = json.Unmarshal(buf, &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &c, nil
}

// List summarizes the saved conversations, most recently updated first.
// Unreadable files are logged and skipped.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), fileExt) {
			continue
		}

		id, parseErr := uuid.Parse(strings.TrimSuffix(name, filepath.Ext(name)))
		if parseErr != nil {
			continue
		}

		c, loadErr := s.Load(ctx, id)
		if loadErr != nil {
			util.Log(ctx).WithError(loadErr).WithField("file", name).Warn("skipping unreadable conversation")
			continue
		}

		summary := Summary{ID: c.ID, Title: c.Title(), Exchanges: len(c.Exchanges)}
		if c.Metadata != nil {
			summary.UpdatedAt = c.Metadata.UpdatedAtUtc
		}
		out = append(out, summary)
	}

	slices.SortFunc(out, func(a, b Summary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
