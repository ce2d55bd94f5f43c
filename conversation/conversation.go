// Package conversation holds the chat records saved per session.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType tells whether a request or reply is text or an image.
// It is written in lower case and read case-insensitively.
type ContentType int

const (
	ContentText ContentType = iota
	ContentImage
)

var contentTypeNames = map[ContentType]string{
	ContentText:  "text",
	ContentImage: "image",
}

func (t ContentType) String() string {
	if name, ok := contentTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ContentType(%d)", int(t))
}

// ParseContentType accepts any letter case.
func ParseContentType(s string) (ContentType, error) {
	for t, name := range contentTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown content type %q", s)
}

func (t ContentType) MarshalText() ([]byte, error) {
	name, ok := contentTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown content type %d", int(t))
	}
	return []byte(name), nil
}

func (t *ContentType) UnmarshalText(text []byte) error {
	parsed, err := ParseContentType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ModelSettings are the model choices of one conversation.
type ModelSettings struct {
	ChatModel     string `json:"ChatModel"`
	ImagesModel   string `json:"ImagesModel"`
	ImagesQuality string `json:"ImagesQuality"`
	ImagesSize    string `json:"ImagesSize"`
	ImagesStyle   string `json:"ImagesStyle"`
}

func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		ChatModel:     "gpt-4o",
		ImagesModel:   "dall-e-3",
		ImagesQuality: "hd",
		ImagesSize:    "1024x1024",
		ImagesStyle:   "vivid",
	}
}

type Metadata struct {
	Title        string    `json:"Title,omitempty"`
	CreatedAtUtc time.Time `json:"CreatedAtUtc"`
	UpdatedAtUtc time.Time `json:"UpdatedAtUtc"`
}

// TranslationSettings lists the languages replies are translated into.
type TranslationSettings struct {
	Languages []string `json:"Languages,omitempty"`
}

type Translation struct {
	Language string `json:"Language"`
	Content  string `json:"Content"`
}

type UserDraft struct {
	Type   ContentType `json:"type"`
	Prompt string      `json:"Prompt"`
}

type UserRequest struct {
	Type         ContentType `json:"type"`
	Prompt       string      `json:"Prompt"`
	CreatedAtUtc time.Time   `json:"CreatedAtUtc"`
}

type AssistantReply struct {
	Type          ContentType   `json:"Type"`
	Content       string        `json:"Content,omitempty"`
	ImageFileName string        `json:"ImageFileName,omitempty"`
	RevisedPrompt string        `json:"RevisedPrompt,omitempty"`
	Title         *string       `json:"Title,omitempty"`
	Summary       *string       `json:"Summary,omitempty"`
	CreatedAtUtc  time.Time     `json:"CreatedAtUtc"`
	Translations  []Translation `json:"Translations,omitempty"`
}

// Exchange is one request and the replies it produced.
type Exchange struct {
	Request UserRequest      `json:"Request"`
	Replies []AssistantReply `json:"Replies,omitempty"`
}

// CurrentExchange is the exchange still being composed or answered.
type CurrentExchange struct {
	Draft   *UserDraft   `json:"Draft,omitempty"`
	Request *UserRequest `json:"Request,omitempty"`
}

type Conversation struct {
	ID                  uuid.UUID            `json:"id"`
	Metadata            *Metadata            `json:"Metadata,omitempty"`
	SystemMessage       *string              `json:"SystemMessage,omitempty"`
	ModelSettings       *ModelSettings       `json:"ModelSettings,omitempty"`
	TranslationSettings *TranslationSettings `json:"TranslationSettings,omitempty"`
	Exchanges           []Exchange           `json:"Exchanges,omitempty"`
	CurrentExchange     *CurrentExchange     `json:"CurrentExchange,omitempty"`
}

// New starts a conversation with default model settings.
func New(systemMessage string, now time.Time) *Conversation {
	settings := DefaultModelSettings()
	c := &Conversation{
		ID:            uuid.New(),
		Metadata:      &Metadata{CreatedAtUtc: now.UTC(), UpdatedAtUtc: now.UTC()},
		ModelSettings: &settings,
	}
	if systemMessage != "" {
		c.SystemMessage = &systemMessage
	}
	return c
}

// Title is the metadata title, or the first prompt when there is none.
func (c *Conversation) Title() string {
	if c.Metadata != nil && c.Metadata.Title != "" {
		return c.Metadata.Title
	}
	if len(c.Exchanges) > 0 {
		return c.Exchanges[0].Request.Prompt
	}
	return ""
}

// Models returns the model settings, falling back to the defaults.
func (c *Conversation) Models() ModelSettings {
	if c.ModelSettings == nil {
		return DefaultModelSettings()
	}
	return *c.ModelSettings
}

// Append records a finished exchange and clears the current one.
func (c *Conversation) Append(request UserRequest, replies ...AssistantReply) {
	c.Exchanges = append(c.Exchanges, Exchange{Request: request, Replies: replies})
	c.CurrentExchange = nil
}

func (c *Conversation) MarshalIndent() ([]byte, error) {
	buf, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}
