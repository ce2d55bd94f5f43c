package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pitabwire/util"
	"github.com/stretchr/testify/suite"

	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/settings"
	"github.com/localgpt/localgpt/workerpool"
)

type StoreSuite struct {
	suite.Suite

	ctx  context.Context
	logs *bytes.Buffer
	path string
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.logs = &bytes.Buffer{}
	ctx := context.Background()
	log := util.NewLogger(ctx,
		util.WithLogOutput(s.logs), util.WithLogNoColor(true), util.WithLogLevel(slog.LevelDebug))
	s.ctx = util.ContextWithLogger(ctx, log)
	s.path = filepath.Join(s.T().TempDir(), "localGpt", "settings.json")
}

func (s *StoreSuite) readFile() settings.UserSettings {
	buf, err := os.ReadFile(s.path)
	s.Require().NoError(err)

	var u settings.UserSettings
	s.Require().NoError(json.Unmarshal(buf, &u))
	return u
}

func (s *StoreSuite) TestMissingFileYieldsConfiguredDefaultLanguage() {
	store := settings.NewStore(s.path, settings.WithDefaultLanguage("ja-jp"))

	u := store.Load(s.ctx)
	s.Equal("ja-jp", u.Language)
	s.Empty(u.LastOpenedDirectory)
	s.Contains(s.logs.String(), "Settings file not found")
}

func (s *StoreSuite) TestCorruptFileYieldsDefaults() {
	s.Require().NoError(os.MkdirAll(filepath.Dir(s.path), 0o755))
	s.Require().NoError(os.WriteFile(s.path, []byte(`{"Language": `), 0o600))

	store := settings.NewStore(s.path)
	s.Equal(store.Defaults(), store.Load(s.ctx))
	s.Contains(s.logs.String(), "Error loading settings")
}

func (s *StoreSuite) TestLoadIsMemoized() {
	store := settings.NewStore(s.path)
	s.Require().True(store.Save(s.ctx, settings.UserSettings{Language: "ja-JP"}))

	first := store.Load(s.ctx)
	s.Require().NoError(os.WriteFile(s.path, []byte(`{"Language": "fr-FR"}`), 0o600))
	s.Equal(first, store.Load(s.ctx))
	s.Equal("ja-JP", store.Settings().Language)
}

func (s *StoreSuite) TestSaveRoundTrip() {
	want := settings.UserSettings{
		Language:            "ja-JP",
		LastOpenedDirectory: "/home/user/chats",
		LastSelectedModel:   "gpt-4.1",
	}

	store := settings.NewStore(s.path)
	s.Require().True(store.Save(s.ctx, store.Load(s.ctx)))
	s.Require().NoError(store.SaveErr(s.ctx, want))

	reopened := settings.NewStore(s.path)
	s.Equal(want, reopened.Load(s.ctx))
	s.Require().True(reopened.Save(s.ctx, reopened.Load(s.ctx)))
	s.Equal(want, settings.NewStore(s.path).Load(s.ctx))
}

func (s *StoreSuite) TestSaveWritesStableFieldOrder() {
	store := settings.NewStore(s.path)
	s.Require().True(store.Save(s.ctx, settings.UserSettings{Language: "en-us", LastSelectedModel: "gpt-4o"}))

	buf, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	s.Equal("{\n  \"Language\": \"en-us\",\n  \"LastOpenedDirectory\": \"\",\n  \"LastSelectedModel\": \"gpt-4o\"\n}\n", string(buf))
}

func (s *StoreSuite) TestSaveFailureIsSwallowed() {
	blocker := filepath.Join(s.T().TempDir(), "file")
	s.Require().NoError(os.WriteFile(blocker, nil, 0o600))

	store := settings.NewStore(filepath.Join(blocker, "settings.json"))
	u := settings.UserSettings{Language: "ja-JP"}

	s.False(store.Save(s.ctx, u))
	s.Equal(u, store.Settings())
	s.Contains(s.logs.String(), "Error saving settings")
}

func (s *StoreSuite) TestEffectiveLanguage() {
	cfg := config.Default()
	cfg.AppSettings.DefaultLanguage = "ja-jp"

	store := settings.NewStore(s.path)
	s.Require().True(store.Save(s.ctx, settings.UserSettings{}))
	s.Equal("ja-jp", store.EffectiveLanguage(s.ctx, &cfg))
	s.Equal(settings.FallbackLanguage, store.EffectiveLanguage(s.ctx, nil))

	s.Equal("fr-FR", settings.UserSettings{Language: "fr-FR"}.EffectiveLanguage("ja-jp"))
}

func (s *StoreSuite) TestUpdateSavesInBackground() {
	store := settings.NewStore(s.path)

	got := store.Update(s.ctx, func(u *settings.UserSettings) {
		u.LastSelectedModel = "gpt-4.1"
	})
	s.Equal("gpt-4.1", got.LastSelectedModel)

	s.Require().NoError(store.Flush(s.ctx))
	s.Equal("gpt-4.1", s.readFile().LastSelectedModel)
}

func (s *StoreSuite) TestBackgroundSavesOnWorkerPoolKeepLatest() {
	mgr, err := workerpool.NewManager(s.ctx, &config.Bootstrap{
		WorkerPoolCapacity: 4, WorkerPoolCount: 1, WorkerPoolExpiryDuration: "1s",
	})
	s.Require().NoError(err)
	defer func() { s.Require().NoError(mgr.Shutdown(s.ctx)) }()

	store := settings.NewStore(s.path, settings.WithWorkerPool(mgr))
	for _, dir := range []string{"/a", "/b", "/c", "/d", "/e"} {
		store.SaveAsync(s.ctx, settings.UserSettings{Language: "en-us", LastOpenedDirectory: dir})
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(store.Close(ctx))

	s.Equal("/e", s.readFile().LastOpenedDirectory)
	s.Equal("/e", store.Settings().LastOpenedDirectory)
}
