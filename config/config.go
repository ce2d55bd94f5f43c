package config

import (
	"context"
	"errors"
	"strings"

	"github.com/caarlos0/env/v11"
)

type contextKey string

func (c contextKey) String() string {
	return "localgpt/config/" + string(c)
}

const (
	ctxKeyConfiguration = contextKey("configurationKey")

	// DefaultEnvironment is used when neither LOCALGPT_ENVIRONMENT nor DOTNET_ENVIRONMENT is set.
	DefaultEnvironment = "Production"

	// BaseFileName is the stem of the base configuration file, appsettings.json.
	BaseFileName = "appsettings"

	bytesPerMegabyte = 1024 * 1024
)

var (
	// ErrConfigNotResolved is returned when saving before anything has been resolved.
	ErrConfigNotResolved = errors.New("configuration has not been resolved")
	// ErrCredentialNotFound is returned when no api key exists in config, environment or keyring.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrUnsupportedFormat is returned for configuration files with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
)

// ToContext adds the effective configuration to the current supplied context.
func ToContext(ctx context.Context, cfg *AppConfig) context.Context {
	return context.WithValue(ctx, ctxKeyConfiguration, cfg)
}

// FromContext extracts the effective configuration from the supplied context if any exist.
func FromContext(ctx context.Context) *AppConfig {
	cfg, ok := ctx.Value(ctxKeyConfiguration).(*AppConfig)
	if !ok {
		return nil
	}
	return cfg
}

// FromEnv convenience method to process configs.
func FromEnv[T any]() (T, error) {
	return env.ParseAs[T]()
}

// FillEnv convenience method to fill a config object with environment data.
func FillEnv(v any) error {
	return env.Parse(v)
}

// Bootstrap holds process level knobs that never live in appsettings files.
type Bootstrap struct {
	Environment       string `env:"LOCALGPT_ENVIRONMENT"`
	DotnetEnvironment string `env:"DOTNET_ENVIRONMENT"`
	ConfigDir         string `env:"LOCALGPT_CONFIG_DIR"`
	SettingsPath      string `env:"LOCALGPT_SETTINGS_PATH"`
	LogColored        bool   `env:"LOCALGPT_LOG_COLORED"  envDefault:"true"`
	LogTimeFormat     string `env:"LOCALGPT_LOG_TIME_FORMAT" envDefault:"15:04:05"`

	WorkerPoolCapacity       int    `env:"LOCALGPT_WORKER_POOL_CAPACITY"        envDefault:"8"`
	WorkerPoolCount          int    `env:"LOCALGPT_WORKER_POOL_COUNT"           envDefault:"1"`
	WorkerPoolExpiryDuration string `env:"LOCALGPT_WORKER_POOL_EXPIRY_DURATION" envDefault:"10s"`
}

// EnvironmentName resolves the name used to pick appsettings.{name}.json.
func (b *Bootstrap) EnvironmentName() string {
	if b.Environment != "" {
		return b.Environment
	}
	if b.DotnetEnvironment != "" {
		return b.DotnetEnvironment
	}
	return DefaultEnvironment
}

// AppConfig is the effective application configuration.
type AppConfig struct {
	AppSettings  AppSettings         `json:"AppSettings"  toml:"AppSettings"  yaml:"AppSettings"  envPrefix:"AppSettings__"`
	Logging      LoggingSettings     `json:"Logging"      toml:"Logging"      yaml:"Logging"      envPrefix:"Logging__"`
	OpenAi       OpenAiSettings      `json:"OpenAi"       toml:"OpenAi"       yaml:"OpenAi"       envPrefix:"OpenAi__"`
	Localization LocalizationOptions `json:"Localization" toml:"Localization" yaml:"Localization" envPrefix:"Localization__"`
}

type AppSettings struct {
	DefaultLanguage         string `env:"DefaultLanguage"         json:"DefaultLanguage"         toml:"DefaultLanguage"         yaml:"DefaultLanguage"`
	DefaultModel            string `env:"DefaultModel"            json:"DefaultModel"            toml:"DefaultModel"            yaml:"DefaultModel"`
	DefaultSystemPrompt     string `env:"DefaultSystemPrompt"     json:"DefaultSystemPrompt"     toml:"DefaultSystemPrompt"     yaml:"DefaultSystemPrompt"`
	DefaultSessionDirectory string `env:"DefaultSessionDirectory" json:"DefaultSessionDirectory" toml:"DefaultSessionDirectory" yaml:"DefaultSessionDirectory"`
}

type LoggingSettings struct {
	MinimumLevel           string `env:"MinimumLevel"           json:"MinimumLevel"           toml:"MinimumLevel"           yaml:"MinimumLevel"`
	LogFilePath            string `env:"LogFilePath"            json:"LogFilePath"            toml:"LogFilePath"            yaml:"LogFilePath"`
	FileSizeLimitBytes     int64  `env:"FileSizeLimitBytes"     json:"FileSizeLimitBytes"     toml:"FileSizeLimitBytes"     yaml:"FileSizeLimitBytes"`
	RetainedFileCountLimit int    `env:"RetainedFileCountLimit" json:"RetainedFileCountLimit" toml:"RetainedFileCountLimit" yaml:"RetainedFileCountLimit"`
}

type OpenAiSettings struct {
	ApiKey         string      `env:"ApiKey"         json:"ApiKey"         toml:"ApiKey"         yaml:"ApiKey"` //nolint:revive // matches the file format
	OrganizationId string      `env:"OrganizationId" json:"OrganizationId" toml:"OrganizationId" yaml:"OrganizationId"` //nolint:revive // matches the file format
	Models         []ModelInfo `json:"Models"        toml:"Models"         yaml:"Models"         envPrefix:"Models__"`
}

// ModelInfo carries the per-million-token pricing of one model.
// Prices are optional; a model without both prices is not priced.
type ModelInfo struct {
	Name                 string   `env:"_Name"                 json:"Name"                 toml:"Name"                 yaml:"Name"`
	PromptPricePer1M     *float64 `env:"_PromptPricePer1M"     json:"PromptPricePer1M"     toml:"PromptPricePer1M"     yaml:"PromptPricePer1M"`
	CompletionPricePer1M *float64 `env:"_CompletionPricePer1M" json:"CompletionPricePer1M" toml:"CompletionPricePer1M" yaml:"CompletionPricePer1M"`
}

// IsPricingConfigured reports whether both prices are present.
func (m ModelInfo) IsPricingConfigured() bool {
	return m.PromptPricePer1M != nil && m.CompletionPricePer1M != nil
}

type LocalizationOptions struct {
	DefaultCulture    string   `env:"DefaultCulture"    json:"DefaultCulture"    toml:"DefaultCulture"    yaml:"DefaultCulture"`
	SupportedCultures []string `env:"SupportedCultures" json:"SupportedCultures" toml:"SupportedCultures" yaml:"SupportedCultures"`
	ResourcesPath     string   `env:"ResourcesPath"     json:"ResourcesPath"     toml:"ResourcesPath"     yaml:"ResourcesPath"`
}

// Default returns the hard-coded lowest configuration layer.
func Default() AppConfig {
	return AppConfig{
		AppSettings: AppSettings{
			DefaultLanguage:         "en-us",
			DefaultModel:            "gpt-4o",
			DefaultSystemPrompt:     "You are a helpful assistant.",
			DefaultSessionDirectory: "",
		},
		Logging: LoggingSettings{
			MinimumLevel:           "Information",
			LogFilePath:            "logs/log-.ndjson",
			FileSizeLimitBytes:     10 * bytesPerMegabyte,
			RetainedFileCountLimit: 31,
		},
		OpenAi: OpenAiSettings{
			Models: []ModelInfo{},
		},
		Localization: LocalizationOptions{
			DefaultCulture:    "en-US",
			SupportedCultures: []string{"en-US", "ja-JP"},
			ResourcesPath:     "localization",
		},
	}
}

// DefaultModels is the single built-in pricing table used when nothing is configured.
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{Name: "gpt-4o", PromptPricePer1M: Price(5.00), CompletionPricePer1M: Price(15.00)},
		{Name: "gpt-4.1", PromptPricePer1M: Price(2.00), CompletionPricePer1M: Price(8.00)},
	}
}

// Price returns a pointer to p, for building ModelInfo literals.
func Price(p float64) *float64 {
	return &p
}

// Model finds a configured model by name, ignoring case.
func (c *AppConfig) Model(name string) (ModelInfo, bool) {
	for _, m := range c.OpenAi.Models {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Clone returns a deep copy so callers can mutate without touching the cached value.
func (c *AppConfig) Clone() AppConfig {
	out := *c
	out.OpenAi.Models = make([]ModelInfo, len(c.OpenAi.Models))
	for i, m := range c.OpenAi.Models {
		out.OpenAi.Models[i] = ModelInfo{Name: m.Name}
		if m.PromptPricePer1M != nil {
			out.OpenAi.Models[i].PromptPricePer1M = Price(*m.PromptPricePer1M)
		}
		if m.CompletionPricePer1M != nil {
			out.OpenAi.Models[i].CompletionPricePer1M = Price(*m.CompletionPricePer1M)
		}
	}
	out.Localization.SupportedCultures = append([]string(nil), c.Localization.SupportedCultures...)
	return out
}

// ensureModels injects the built-in models when the merge yielded none.
func (c *AppConfig) ensureModels() bool {
	if len(c.OpenAi.Models) > 0 {
		return false
	}
	c.OpenAi.Models = DefaultModels()
	return true
}

// MaxSizeMB converts FileSizeLimitBytes into whole megabytes, rounding up.
// Zero means no limit was configured.
func (l LoggingSettings) MaxSizeMB() int {
	if l.FileSizeLimitBytes <= 0 {
		return 0
	}
	return int((l.FileSizeLimitBytes + bytesPerMegabyte - 1) / bytesPerMegabyte)
}

