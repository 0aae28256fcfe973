package anthropic

import (
	"fmt"
	"slices"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/samber/lo"
)

// DefaultMaxTokens is sent when options omit max_tokens, which the Messages
// API requires.
const DefaultMaxTokens = 4096

// Options consumed by buildParams instead of being passed through.
const (
	optionModel     = "model"
	optionMaxTokens = "max_tokens"
)

// toMessageParams converts rendered messages to Anthropic messages. System
// messages have no place in the message list and are returned as system
// blocks instead.
func toMessageParams(msgs []llm.RenderedMessage) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var (
		messages []anthropic.MessageParam
		system   []anthropic.TextBlockParam
	)
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			for _, p := range m.Parts {
				if p.IsText() {
					system = append(system, anthropic.TextBlockParam{Text: p.Text})
				}
			}
			continue
		}

		blocks := lo.Map(m.Parts, func(p llm.MessagePart, _ int) anthropic.ContentBlockParamUnion {
			return toContentBlock(p)
		})
		if m.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages, system
}

func toContentBlock(p llm.MessagePart) anthropic.ContentBlockParamUnion {
	switch {
	case p.IsText():
		return anthropic.NewTextBlock(p.Text)
	case p.Image.URL != "":
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: p.Image.URL})
	default:
		mediaType := p.Image.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return anthropic.NewImageBlockBase64(mediaType, p.Image.Base64)
	}
}

// buildParams builds the request for one call. model and max_tokens go into
// the typed params; every other property is set on the JSON body verbatim.
func buildParams(props *llm.ResolvedProperties, msgs []llm.RenderedMessage) (anthropic.MessageNewParams, []option.RequestOption, error) {
	properties := props.CloneProperties()

	var model string
	if raw, ok := properties[optionModel]; ok {
		s, isString := raw.(string)
		if !isString {
			return anthropic.MessageNewParams{}, nil, fmt.Errorf("options.model must be a string, got %T", raw)
		}
		model = s
		delete(properties, optionModel)
	}

	maxTokens := int64(DefaultMaxTokens)
	if raw, ok := properties[optionMaxTokens]; ok {
		n, err := toInt64(raw)
		if err != nil {
			return anthropic.MessageNewParams{}, nil, fmt.Errorf("options.max_tokens: %w", err)
		}
		maxTokens = n
		delete(properties, optionMaxTokens)
	}

	messages, system := toMessageParams(msgs)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}

	keys := lo.Keys(properties)
	slices.Sort(keys)
	opts := lo.Map(keys, func(key string, _ int) option.RequestOption {
		return option.WithJSONSet(key, properties[key])
	})
	return params, opts, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("must be a whole number, got %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}

// finishReason maps an Anthropic stop reason onto the finish reasons the
// rest of the client reports: a natural stop is "stop", running out of
// tokens is "length".
func finishReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	case anthropic.StopReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

// usage converts token counts. Anthropic does not report a total.
func usage(input, output int64) *llm.Usage {
	return &llm.Usage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}
