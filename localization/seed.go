package localization

import (
	"context"
	"embed"
	"os"
	"path"
	"path/filepath"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/internal/atomicfile"
)

//go:embed seed/*.json
var seedFS embed.FS

// BuiltinCultures are the cultures installed when no resources exist.
var BuiltinCultures = []string{"en-US", "ja-JP"}

// seed installs the built-in tables and writes them to the resources
// directory without replacing existing files. Write failures are logged; the
// tables stay usable in memory.
func (c *Catalog) seed(ctx context.Context) map[string]table {
	log := util.Log(ctx).WithField("dir", c.dir)
	log.Info("No localization resources found, creating defaults")

	tables := make(map[string]table, len(BuiltinCultures))
	for _, culture := range BuiltinCultures {
		name := culture + ".json"
		buf, err := seedFS.ReadFile(path.Join("seed", name))
		if err != nil {
			log.WithError(err).WithField("culture", culture).Error("built-in localization table is missing")
			continue
		}

		messages, err := parseResource(buf, name)
		if err != nil {
			log.WithError(err).WithField("culture", culture).Error("built-in localization table is invalid")
			continue
		}
		tables[culture] = newTable(ctx, culture, messages)

		target := filepath.Join(c.dir, name)
		if _, statErr := os.Stat(target); statErr == nil {
			log.WithField("path", target).Warn("localization resource already exists, leaving it in place")
			continue
		}
		if err = atomicfile.Write(target, buf); err != nil {
			log.WithError(err).WithField("path", target).Warn("could not write default localization resource")
		}
	}

	c.mu.Lock()
	c.seeded = tables
	c.mu.Unlock()
	return tables
}
