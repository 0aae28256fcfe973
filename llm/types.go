package llm

import (
	"encoding/json"
	"strings"
)

// Message roles understood by chat providers. Rendered prompts may carry any
// role string; these are the ones the core itself produces.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// RenderedPrompt is the output of prompt rendering: either a flat completion
// string or an ordered list of role-tagged chat messages. Exactly one form is set.
type RenderedPrompt struct {
	Completion string            `json:"completion,omitempty"`
	Chat       []RenderedMessage `json:"chat,omitempty"`
}

// ChatPrompt wraps messages as a chat prompt.
func ChatPrompt(messages ...RenderedMessage) RenderedPrompt {
	if messages == nil {
		messages = []RenderedMessage{}
	}
	return RenderedPrompt{Chat: messages}
}

// CompletionPrompt wraps text as a completion prompt.
func CompletionPrompt(text string) RenderedPrompt {
	return RenderedPrompt{Completion: text}
}

// IsChat reports whether the prompt is a list of chat messages.
func (p RenderedPrompt) IsChat() bool {
	return p.Chat != nil
}

// RenderedMessage is a single role-tagged message produced upstream.
// It is consumed read-only by clients.
type RenderedMessage struct {
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// MessagePart is either literal text or an image reference.
type MessagePart struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// IsText reports whether the part carries text rather than an image.
func (p MessagePart) IsText() bool {
	return p.Image == nil
}

// Image references an image either by URL or by embedded base64 data.
type Image struct {
	URL       string `json:"url,omitempty"`
	Base64    string `json:"base64,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// NewTextMessage creates a message with a single text part.
func NewTextMessage(role, text string) RenderedMessage {
	return RenderedMessage{
		Role:  role,
		Parts: []MessagePart{{Text: text}},
	}
}

// NewImageURLPart creates an image part referencing a URL.
func NewImageURLPart(url string) MessagePart {
	return MessagePart{Image: &Image{URL: url}}
}

// NewImageBase64Part creates an image part with embedded base64 data.
func NewImageBase64Part(mediaType, data string) MessagePart {
	return MessagePart{Image: &Image{Base64: data, MediaType: mediaType}}
}

// Text joins the text parts of a message, skipping images.
func (m RenderedMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ChatOptions is what a chat client exposes back to the prompt renderer.
type ChatOptions struct {
	DefaultRole string
}

// ToJSON marshals a prompt for debugging/logging purposes.
func (p RenderedPrompt) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
