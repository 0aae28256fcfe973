package openai

import (
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// chatMessage is one entry of the outbound "messages" array. Content is
// either a bare string or a list of openai.ChatMessagePart.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// toChatMessages converts rendered messages to the outbound wire format.
func toChatMessages(msgs []llm.RenderedMessage) []chatMessage {
	return lo.Map(msgs, func(m llm.RenderedMessage, _ int) chatMessage {
		return chatMessage{
			Role:    m.Role,
			Content: toMessageContent(m.Parts),
		}
	})
}

// toMessageContent converts message parts to the "content" value. A message
// made of exactly one text part is sent as a bare string, for providers that
// only accept scalar content.
func toMessageContent(parts []llm.MessagePart) any {
	if len(parts) == 1 && parts[0].IsText() {
		return parts[0].Text
	}
	return lo.Map(parts, func(p llm.MessagePart, _ int) openai.ChatMessagePart {
		if p.IsText() {
			return openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			}
		}
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: imageURL(p.Image)},
		}
	})
}

// imageURL returns the image's URL, or a data URL for embedded images.
func imageURL(img *llm.Image) string {
	if img.URL != "" {
		return img.URL
	}
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + img.Base64
}

// buildRequestBody merges the pass-through properties with the messages.
// The body is built fresh for every call.
func buildRequestBody(props *llm.ResolvedProperties, msgs []llm.RenderedMessage, stream bool) map[string]any {
	body := props.CloneProperties()
	body["messages"] = toChatMessages(msgs)
	if stream {
		body["stream"] = true
	}
	return body
}
