// Package localization resolves UI strings per culture and switches the active culture.
package localization

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type contextKey string

func (c contextKey) String() string {
	return "localgpt/localization/" + string(c)
}

const ctxKeyCulture = contextKey("cultureKey")

const (
	DefaultCulture       = "en-US"
	DefaultResourcesPath = "localization"
)

// resourceFormats maps a resource file extension to its decoder.
var resourceFormats = map[string]i18n.UnmarshalFunc{
	"json": json.Unmarshal,
	"toml": toml.Unmarshal,
	"yaml": yaml.Unmarshal,
	"yml":  yaml.Unmarshal,
}

// ToContext pins culture for lookups made with ctx.
func ToContext(ctx context.Context, culture string) context.Context {
	return context.WithValue(ctx, ctxKeyCulture, culture)
}

// FromContext extracts the culture pinned by ToContext, if any.
func FromContext(ctx context.Context) string {
	culture, ok := ctx.Value(ctxKeyCulture).(string)
	if !ok {
		return ""
	}
	return culture
}

// Canonical returns the BCP 47 form of id, so "en-us" and "en_US" both become "en-US".
// It returns "" when id is not a language tag.
func Canonical(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}

	tag, err := language.Parse(strings.ReplaceAll(id, "_", "-"))
	if err != nil {
		return ""
	}
	return tag.String()
}

// SameCulture reports whether a and b name the same culture.
func SameCulture(a, b string) bool {
	ca, cb := Canonical(a), Canonical(b)
	return ca != "" && ca == cb
}

// resourceCulture returns the culture served by a resource file name, or "".
func resourceCulture(name string) string {
	ext := filepath.Ext(name)
	if _, ok := resourceFormats[strings.TrimPrefix(strings.ToLower(ext), ".")]; !ok {
		return ""
	}
	return Canonical(strings.TrimSuffix(name, ext))
}

func isResourceFile(name string) bool {
	return resourceCulture(name) != ""
}
