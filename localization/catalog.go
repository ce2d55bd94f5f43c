package localization

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pitabwire/util"
	"golang.org/x/text/language"

	"github.com/localgpt/localgpt/internal/atomicfile"
)

// table holds the messages of one culture and the bundle used to format them.
type table struct {
	messages map[string]*i18n.Message
	bundle   *i18n.Bundle
}

func newTable(ctx context.Context, culture string, messages map[string]*i18n.Message) table {
	t := table{messages: messages}

	tag, err := language.Parse(culture)
	if err != nil {
		return t
	}

	bundle := i18n.NewBundle(tag)
	if err = bundle.AddMessages(tag, slices.Collect(maps.Values(messages))...); err != nil {
		util.Log(ctx).WithError(err).WithField("culture", culture).Debug("messages cannot be formatted")
		return t
	}
	t.bundle = bundle
	return t
}

// Catalog holds one string table per culture and resolves keys against the
// active culture, then the default culture, then the key itself.
// It is safe for concurrent use.
type Catalog struct {
	dir            string
	defaultCulture string

	mu     sync.RWMutex
	active string
	tables map[string]table
	seeded map[string]table
}

// NewCatalog creates an empty catalog reading resources from dir.
// The active culture starts as defaultCulture.
func NewCatalog(dir, defaultCulture string) *Catalog {
	if dir == "" {
		dir = DefaultResourcesPath
	}

	culture := Canonical(defaultCulture)
	if culture == "" {
		culture = DefaultCulture
	}

	return &Catalog{
		dir:            dir,
		defaultCulture: culture,
		active:         culture,
		tables:         map[string]table{},
		seeded:         map[string]table{},
	}
}

func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) DefaultCulture() string {
	return c.defaultCulture
}

func (c *Catalog) ActiveCulture() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Catalog) setActive(culture string) {
	c.mu.Lock()
	c.active = culture
	c.mu.Unlock()
}

// LoadAll replaces every table with what the resources directory holds.
// When no culture has a resource the built-in tables are installed instead.
func (c *Catalog) LoadAll(ctx context.Context) {
	log := util.Log(ctx).WithField("dir", c.dir)

	if err := os.MkdirAll(c.dir, atomicfile.DirPerm); err != nil {
		log.WithError(err).Warn("could not create localization directory")
	}

	found, err := c.scan(ctx, "")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Error("could not read localization directory")
	}

	if len(found) == 0 {
		found = c.seed(ctx)
	}

	c.mu.Lock()
	c.tables = found
	c.mu.Unlock()

	log.WithField("cultures", c.Cultures()).Info("Localization resources loaded")
}

// Load re-reads the resources of culture. A culture without resources ends up
// with an empty table, so lookups fall through to the default culture.
// It reports whether any resource was found.
func (c *Catalog) Load(ctx context.Context, culture string) bool {
	culture = Canonical(culture)
	if culture == "" {
		return false
	}
	log := util.Log(ctx).WithField("culture", culture).WithField("dir", c.dir)

	found, err := c.scan(ctx, culture)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Error("could not read localization directory")
	}

	t, ok := found[culture]
	if !ok {
		c.mu.RLock()
		t, ok = c.seeded[culture]
		c.mu.RUnlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		log.Warn("Localization resource not found, falling back to default culture")
		c.tables[culture] = table{messages: map[string]*i18n.Message{}}
		return false
	}

	c.tables[culture] = t
	return true
}

// Resolve returns the text for key in the active culture. It never fails: a
// missing key falls back to the default culture and finally to key itself.
func (c *Catalog) Resolve(key string) string {
	return c.ResolveIn(c.ActiveCulture(), key)
}

// ResolveContext is Resolve using the culture pinned on ctx, when there is one.
func (c *Catalog) ResolveContext(ctx context.Context, key string) string {
	if culture := FromContext(ctx); culture != "" {
		return c.ResolveIn(culture, key)
	}
	return c.Resolve(key)
}

// ResolveIn is Resolve with an explicit active culture.
func (c *Catalog) ResolveIn(culture, key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msg, _ := lookup(key, c.tables[Canonical(culture)].messages, c.tables[c.defaultCulture].messages)
	if msg == nil {
		return key
	}
	return msg.Other
}

// Format resolves key like Resolve and renders it as a template with data.
// A non-nil count selects the plural form of the culture the text came from.
func (c *Catalog) Format(ctx context.Context, key string, data map[string]any, count any) string {
	c.mu.RLock()
	active := c.active
	if culture := Canonical(FromContext(ctx)); culture != "" {
		active = culture
	}

	culture := active
	msg, fromActive := lookup(key, c.tables[active].messages, nil)
	if !fromActive {
		culture = c.defaultCulture
		msg, _ = lookup(key, c.tables[culture].messages, nil)
	}
	bundle := c.tables[culture].bundle
	c.mu.RUnlock()

	if msg == nil {
		return key
	}
	if bundle == nil {
		return msg.Other
	}

	text, err := i18n.NewLocalizer(bundle, culture).Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
		PluralCount:  count,
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("key", key).Warn("could not format localized string")
		return msg.Other
	}
	return text
}

// Has reports whether culture has at least one loaded string.
func (c *Catalog) Has(culture string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables[Canonical(culture)].messages) > 0
}

// Cultures lists the cultures with loaded strings, sorted.
func (c *Catalog) Cultures() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cultures := make([]string, 0, len(c.tables))
	for culture, t := range c.tables {
		if len(t.messages) > 0 {
			cultures = append(cultures, culture)
		}
	}
	slices.Sort(cultures)
	return cultures
}

// Keys lists the keys defined for culture, sorted.
func (c *Catalog) Keys(culture string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.tables[Canonical(culture)].messages))
}

// lookup finds key in active, then in fallback. The flag is true when the
// message came from active.
func lookup(key string, active, fallback map[string]*i18n.Message) (*i18n.Message, bool) {
	if msg, ok := active[key]; ok {
		return msg, true
	}
	if msg, ok := fallback[key]; ok {
		return msg, false
	}
	return nil, false
}

// scan reads the resource files in the directory, restricted to only when set.
// Files naming the same culture are merged in name order.
func (c *Catalog) scan(ctx context.Context, only string) (map[string]table, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	merged := map[string]map[string]*i18n.Message{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		culture := resourceCulture(entry.Name())
		if culture == "" || (only != "" && culture != only) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		messages, parseErr := readResource(path, culture)
		if parseErr != nil {
			util.Log(ctx).WithError(parseErr).WithField("path", path).Error("Error loading localization resource")
			continue
		}

		if merged[culture] == nil {
			merged[culture] = map[string]*i18n.Message{}
		}
		maps.Copy(merged[culture], messages)
	}

	tables := make(map[string]table, len(merged))
	for culture, messages := range merged {
		tables[culture] = newTable(ctx, culture, messages)
	}
	return tables, nil
}

func readResource(path, culture string) (map[string]*i18n.Message, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	messages, err := parseResource(buf, culture+strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return messages, nil
}

// pluralForms are the categories a nested object may use to define a plural message.
var pluralForms = []string{"zero", "one", "two", "few", "many", "other"}

// parseResource decodes a flat or nested resource; nested keys are joined with ".".
// Every top-level key is a string key, whatever its name. A nested object made
// only of plural categories, including "other", is one plural message.
func parseResource(buf []byte, name string) (map[string]*i18n.Message, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	unmarshal, ok := resourceFormats[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported resource format %q", ext)
	}

	var raw map[string]any
	if err := unmarshal(buf, &raw); err != nil {
		return nil, err
	}

	messages := make(map[string]*i18n.Message, len(raw))
	if err := flatten("", raw, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func flatten(prefix string, raw map[string]any, out map[string]*i18n.Message) error {
	for key, value := range raw {
		id := key
		if prefix != "" {
			id = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[id] = &i18n.Message{ID: id, Other: v}
		case nil:
			out[id] = &i18n.Message{ID: id}
		case map[string]any:
			if msg, plural := pluralMessage(id, v); plural {
				out[id] = msg
				continue
			}
			if err := flatten(id, v, out); err != nil {
				return err
			}
		case []any:
			return fmt.Errorf("key %q: lists are not supported", id)
		default:
			out[id] = &i18n.Message{ID: id, Other: fmt.Sprint(v)}
		}
	}
	return nil
}

func pluralMessage(id string, forms map[string]any) (*i18n.Message, bool) {
	if _, ok := forms["other"]; !ok {
		return nil, false
	}

	texts := make(map[string]string, len(forms))
	for form, value := range forms {
		text, isString := value.(string)
		if !isString || !slices.Contains(pluralForms, form) {
			return nil, false
		}
		texts[form] = text
	}

	return &i18n.Message{
		ID:    id,
		Zero:  texts["zero"],
		One:   texts["one"],
		Two:   texts["two"],
		Few:   texts["few"],
		Many:  texts["many"],
		Other: texts["other"],
	}, true
}
