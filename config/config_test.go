package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pitabwire/util"
	"github.com/stretchr/testify/suite"

	"github.com/localgpt/localgpt/config"
)

type ConfigSuite struct {
	suite.Suite

	dir  string
	logs *bytes.Buffer
	ctx  context.Context
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.logs = &bytes.Buffer{}
	ctx := context.Background()
	log := util.NewLogger(ctx,
		util.WithLogOutput(s.logs), util.WithLogNoColor(true), util.WithLogLevel(slog.LevelDebug))
	s.ctx = util.ContextWithLogger(ctx, log)
}

func (s *ConfigSuite) write(name, content string) {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, name), []byte(content), 0o600))
}

func (s *ConfigSuite) resolver(environ map[string]string, opts ...config.ResolverOption) *config.Resolver {
	if environ == nil {
		environ = map[string]string{}
	}
	return config.NewResolver(s.dir, append([]config.ResolverOption{config.WithEnviron(environ)}, opts...)...)
}

func (s *ConfigSuite) TestContextHelpers() {
	cfg := config.Default()

	ctx := config.ToContext(context.Background(), &cfg)
	s.Equal("gpt-4o", config.FromContext(ctx).AppSettings.DefaultModel)
	s.Nil(config.FromContext(context.Background()))
}

func (s *ConfigSuite) TestFromEnvAndFillEnv() {
	s.T().Setenv("LOCALGPT_ENVIRONMENT", "Staging")
	s.T().Setenv("LOCALGPT_WORKER_POOL_CAPACITY", "3")

	b, err := config.LoadBootstrap()
	s.Require().NoError(err)
	s.Equal("Staging", b.EnvironmentName())
	s.Equal(3, b.GetCapacity())
	s.True(b.LogColored)

	var target config.Bootstrap
	s.Require().NoError(config.FillEnv(&target))
	s.Equal("Staging", target.Environment)
}

func (s *ConfigSuite) TestDefaults() {
	cfg := config.Default()

	s.Equal("en-us", cfg.AppSettings.DefaultLanguage)
	s.Equal("gpt-4o", cfg.AppSettings.DefaultModel)
	s.Equal("You are a helpful assistant.", cfg.AppSettings.DefaultSystemPrompt)
	s.Empty(cfg.AppSettings.DefaultSessionDirectory)
	s.Equal("Information", cfg.Logging.MinimumLevel)
	s.Equal("logs/log-.ndjson", cfg.Logging.LogFilePath)
	s.EqualValues(10*1024*1024, cfg.Logging.FileSizeLimitBytes)
	s.Equal(31, cfg.Logging.RetainedFileCountLimit)
	s.Equal(10, cfg.Logging.MaxSizeMB())
	s.Empty(cfg.OpenAi.Models)
	s.Equal("en-US", cfg.Localization.DefaultCulture)
	s.Equal([]string{"en-US", "ja-JP"}, cfg.Localization.SupportedCultures)
}

func (s *ConfigSuite) TestResolveWithoutFilesInjectsBuiltInModels() {
	cfg := s.resolver(nil).Resolve(s.ctx)

	s.Require().Len(cfg.OpenAi.Models, 2)
	s.Equal("gpt-4o", cfg.OpenAi.Models[0].Name)
	s.InDelta(5.00, *cfg.OpenAi.Models[0].PromptPricePer1M, 0.0001)
	s.InDelta(15.00, *cfg.OpenAi.Models[0].CompletionPricePer1M, 0.0001)
	s.Equal("gpt-4.1", cfg.OpenAi.Models[1].Name)
	s.InDelta(2.00, *cfg.OpenAi.Models[1].PromptPricePer1M, 0.0001)
	s.InDelta(8.00, *cfg.OpenAi.Models[1].CompletionPricePer1M, 0.0001)
	s.Contains(s.logs.String(), "Base configuration file not found")
}

func (s *ConfigSuite) TestEmptyModelListInFileGetsBuiltIns() {
	s.write("appsettings.json", `{"OpenAi": {"ApiKey": "k", "Models": []}}`)

	cfg := s.resolver(nil).Resolve(s.ctx)

	s.Equal("k", cfg.OpenAi.ApiKey)
	s.Require().Len(cfg.OpenAi.Models, 2)
	for _, m := range cfg.OpenAi.Models {
		s.True(m.IsPricingConfigured(), m.Name)
	}
	s.Contains(s.logs.String(), "No models configured, adding defaults")
}

func (s *ConfigSuite) TestConfiguredModelsAreKept() {
	s.write("appsettings.json", `{"OpenAi": {"Models": [{"Name": "o3", "PromptPricePer1M": 10}]}}`)

	cfg := s.resolver(nil).Resolve(s.ctx)

	s.Require().Len(cfg.OpenAi.Models, 1)
	s.Equal("o3", cfg.OpenAi.Models[0].Name)
	s.False(cfg.OpenAi.Models[0].IsPricingConfigured())

	m, ok := cfg.Model("O3")
	s.True(ok)
	s.Equal("o3", m.Name)
}

func (s *ConfigSuite) TestLayerPrecedence() {
	s.write("appsettings.json", `{
		"AppSettings": {"DefaultModel": "from-base", "DefaultSystemPrompt": "base prompt", "DefaultLanguage": "ja-jp"},
		"Logging": {"MinimumLevel": "Debug"}
	}`)
	s.write("appsettings.Development.json", `{
		"AppSettings": {"DefaultModel": "from-env-file", "DefaultSessionDirectory": "/sessions"}
	}`)

	cfg := s.resolver(map[string]string{
		"DOTNET_ENVIRONMENT":        "Development",
		"AppSettings__DefaultModel": "from-variable",
	}).Resolve(s.ctx)

	s.Equal("from-variable", cfg.AppSettings.DefaultModel)
	s.Equal("/sessions", cfg.AppSettings.DefaultSessionDirectory)
	s.Equal("base prompt", cfg.AppSettings.DefaultSystemPrompt)
	s.Equal("ja-jp", cfg.AppSettings.DefaultLanguage)
	s.Equal("Debug", cfg.Logging.MinimumLevel)
	s.Equal("logs/log-.ndjson", cfg.Logging.LogFilePath)
}

func (s *ConfigSuite) TestMalformedVariableKeepsOtherOverrides() {
	s.write("appsettings.json", `{"Logging": {"FileSizeLimitBytes": 2048}}`)

	cfg := s.resolver(map[string]string{
		"Logging__FileSizeLimitBytes": "abc",
		"AppSettings__DefaultModel":   "x",
	}).Resolve(s.ctx)

	s.Equal("x", cfg.AppSettings.DefaultModel)
	s.Equal(int64(2048), cfg.Logging.FileSizeLimitBytes)
	s.Contains(s.logs.String(), "Error applying environment variables to configuration")
}

func (s *ConfigSuite) TestEnvironmentNameSelection() {
	s.write("appsettings.Production.json", `{"AppSettings": {"DefaultModel": "prod"}}`)
	s.write("appsettings.Staging.json", `{"AppSettings": {"DefaultModel": "staging"}}`)

	s.Equal("prod", s.resolver(nil).Resolve(s.ctx).AppSettings.DefaultModel)

	r := s.resolver(map[string]string{"DOTNET_ENVIRONMENT": "Development", "LOCALGPT_ENVIRONMENT": "Staging"})
	s.Equal("Staging", r.EnvironmentName())
	s.Equal("staging", r.Resolve(s.ctx).AppSettings.DefaultModel)

	pinned := s.resolver(nil, config.WithEnvironmentName("Staging"))
	s.Equal("staging", pinned.Resolve(s.ctx).AppSettings.DefaultModel)
}

func (s *ConfigSuite) TestModelsFromEnvironmentVariables() {
	cfg := s.resolver(map[string]string{
		"OpenAi__Models__0__Name":                 "gpt-4o-mini",
		"OpenAi__Models__0__PromptPricePer1M":     "0.15",
		"OpenAi__Models__0__CompletionPricePer1M": "0.6",
		"OpenAi__ApiKey":                          "sk-env",
		"Localization__SupportedCultures":         "en-US,ja-JP,de-DE",
	}).Resolve(s.ctx)

	s.Require().Len(cfg.OpenAi.Models, 1)
	s.Equal("gpt-4o-mini", cfg.OpenAi.Models[0].Name)
	s.Require().True(cfg.OpenAi.Models[0].IsPricingConfigured())
	s.InDelta(0.15, *cfg.OpenAi.Models[0].PromptPricePer1M, 0.0001)
	s.InDelta(0.6, *cfg.OpenAi.Models[0].CompletionPricePer1M, 0.0001)
	s.Equal("sk-env", cfg.OpenAi.ApiKey)
	s.Equal([]string{"en-US", "ja-JP", "de-DE"}, cfg.Localization.SupportedCultures)
}

func (s *ConfigSuite) TestDotEnvSitsBeneathEnvironment() {
	s.write(".env", "AppSettings__DefaultModel=dotenv\nAppSettings__DefaultLanguage=ja-jp\n")

	cfg := s.resolver(map[string]string{"AppSettings__DefaultModel": "process"}).Resolve(s.ctx)
	s.Equal("process", cfg.AppSettings.DefaultModel)
	s.Equal("ja-jp", cfg.AppSettings.DefaultLanguage)

	disabled := s.resolver(nil, config.WithDotEnv(false)).Resolve(s.ctx)
	s.Equal("en-us", disabled.AppSettings.DefaultLanguage)
}

func (s *ConfigSuite) TestTomlAndYamlFiles() {
	s.write("appsettings.toml", `
[AppSettings]
DefaultModel = "toml-model"

[[OpenAi.Models]]
Name = "toml-gpt"
PromptPricePer1M = 1.0
CompletionPricePer1M = 2.0
`)
	s.write("appsettings.Production.yaml", `
AppSettings:
  DefaultSystemPrompt: yaml prompt
`)

	r := s.resolver(nil)
	cfg := r.Resolve(s.ctx)

	s.Equal("toml-model", cfg.AppSettings.DefaultModel)
	s.Equal("yaml prompt", cfg.AppSettings.DefaultSystemPrompt)
	s.Require().Len(cfg.OpenAi.Models, 1)
	s.Equal("toml-gpt", cfg.OpenAi.Models[0].Name)
	s.Equal(filepath.Join(s.dir, "appsettings.toml"), r.BasePath())
	s.Len(r.Sources(), 2)
}

func (s *ConfigSuite) TestBrokenFileIsSkipped() {
	s.write("appsettings.json", `{"AppSettings": {"DefaultModel": "x"`)
	s.write("appsettings.Production.json", `{"AppSettings": {"DefaultLanguage": "ja-jp"}}`)

	cfg := s.resolver(nil).Resolve(s.ctx)

	s.Equal("gpt-4o", cfg.AppSettings.DefaultModel)
	s.Equal("ja-jp", cfg.AppSettings.DefaultLanguage)
	s.Len(cfg.OpenAi.Models, 2)
	s.Contains(s.logs.String(), "Error loading configuration file")
}

func (s *ConfigSuite) TestResolveIsCachedUntilReload() {
	s.write("appsettings.json", `{"AppSettings": {"DefaultModel": "first"}}`)
	r := s.resolver(nil)

	s.Equal("first", r.Resolve(s.ctx).AppSettings.DefaultModel)

	s.write("appsettings.json", `{"AppSettings": {"DefaultModel": "second"}}`)
	s.Equal("first", r.Resolve(s.ctx).AppSettings.DefaultModel)

	s.Equal("second", r.Reload(s.ctx).AppSettings.DefaultModel)
	s.Equal("second", r.Resolve(s.ctx).AppSettings.DefaultModel)
}

func (s *ConfigSuite) TestResolveReturnsIndependentCopies() {
	r := s.resolver(nil)

	cfg := r.Resolve(s.ctx)
	cfg.OpenAi.Models[0].Name = "mutated"
	*cfg.OpenAi.Models[0].PromptPricePer1M = 99

	again := r.Resolve(s.ctx)
	s.Equal("gpt-4o", again.OpenAi.Models[0].Name)
	s.InDelta(5.00, *again.OpenAi.Models[0].PromptPricePer1M, 0.0001)
}

func (s *ConfigSuite) TestSaveRoundTrip() {
	s.write("appsettings.json", `{
		"AppSettings": {"DefaultLanguage": "ja-jp", "DefaultModel": "gpt-4o", "DefaultSystemPrompt": "p", "DefaultSessionDirectory": "/s"},
		"Logging": {"MinimumLevel": "Warning", "LogFilePath": "l.ndjson", "FileSizeLimitBytes": 2048, "RetainedFileCountLimit": 3},
		"OpenAi": {"ApiKey": "k", "OrganizationId": "org", "Models": [{"Name": "m", "PromptPricePer1M": 1.5, "CompletionPricePer1M": null}]},
		"Localization": {"DefaultCulture": "en-US", "SupportedCultures": ["en-US", "ja-JP"], "ResourcesPath": "res"}
	}`)

	r := s.resolver(nil)
	original := r.Resolve(s.ctx)

	r.Update(s.ctx, func(cfg *config.AppConfig) {
		cfg.AppSettings.DefaultModel = "gpt-4.1"
	})
	s.Require().NoError(r.Save(s.ctx))

	reloaded := s.resolver(nil).Resolve(s.ctx)

	expected := original.Clone()
	expected.AppSettings.DefaultModel = "gpt-4.1"
	s.Equal(expected, reloaded)
	s.Nil(reloaded.OpenAi.Models[0].CompletionPricePer1M)
}

func (s *ConfigSuite) TestSaveCreatesBaseFileWhenMissing() {
	r := s.resolver(nil)
	r.Resolve(s.ctx)

	s.Require().NoError(r.Save(s.ctx))

	data, err := os.ReadFile(filepath.Join(s.dir, "appsettings.json"))
	s.Require().NoError(err)
	s.Contains(string(data), `"DefaultModel": "gpt-4o"`)
	s.Contains(string(data), `"Name": "gpt-4.1"`)
}

func (s *ConfigSuite) TestSaveBeforeResolve() {
	err := s.resolver(nil).Save(s.ctx)
	s.Require().ErrorIs(err, config.ErrConfigNotResolved)
}

func (s *ConfigSuite) TestDefaultCultureIsAlwaysSupported() {
	s.write("appsettings.json", `{"Localization": {"DefaultCulture": "fr-FR", "SupportedCultures": ["en-US", "", "EN-us"]}}`)

	cfg := s.resolver(nil).Resolve(s.ctx)

	s.Equal([]string{"fr-FR", "en-US"}, cfg.Localization.SupportedCultures)
	s.Equal("localization", cfg.Localization.ResourcesPath)
}

func (s *ConfigSuite) TestReplaceKeepsInvariants() {
	r := s.resolver(nil)

	cfg := config.AppConfig{AppSettings: config.AppSettings{DefaultModel: "local"}}
	got := r.Replace(cfg)

	s.Len(got.OpenAi.Models, 2)
	s.Equal("en-US", got.Localization.DefaultCulture)
	s.Equal([]string{"en-US"}, got.Localization.SupportedCultures)
	s.Equal("local", r.Resolve(s.ctx).AppSettings.DefaultModel)
	s.Empty(r.Sources())
}

func (s *ConfigSuite) TestWatchReloadsOnChange() {
	s.write("appsettings.json", `{"AppSettings": {"DefaultModel": "before"}}`)
	r := s.resolver(nil)
	s.Equal("before", r.Resolve(s.ctx).AppSettings.DefaultModel)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	changed := make(chan config.AppConfig, 4)
	s.Require().NoError(r.Watch(ctx, func(_ context.Context, cfg config.AppConfig) {
		changed <- cfg
	}))

	s.write("appsettings.json", `{"AppSettings": {"DefaultModel": "after"}}`)

	select {
	case cfg := <-changed:
		s.Equal("after", cfg.AppSettings.DefaultModel)
	case <-time.After(5 * time.Second):
		s.Fail("configuration change was not observed")
	}
	s.Equal("after", r.Resolve(s.ctx).AppSettings.DefaultModel)
}
