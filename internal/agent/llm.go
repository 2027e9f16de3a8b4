package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// LLMClient runs agents directly against a chat model instead of a CLI.
// It honours the same stream, timeout and retry contract as Client.
type LLMClient struct {
	Model       llms.Model
	Name        string
	Backoff     time.Duration
	CallOptions []llms.CallOption

	live liveness
}

func NewLLMClient(model llms.Model, name string) *LLMClient {
	return &LLMClient{
		Model:   model,
		Name:    name,
		Backoff: DefaultBackoff,
	}
}

func (c *LLMClient) Invoke(ctx context.Context, input, systemPrompt string, opts Options) <-chan StreamEvent {
	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(input)},
	})

	return stream(ctx, c.Name, opts, c.Backoff, &c.live, func(ctx context.Context, emit func(string) bool) (string, error) {
		var streamed strings.Builder
		callOpts := append([]llms.CallOption{}, c.CallOptions...)
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed.Write(chunk)
			if !emit(string(chunk)) {
				return errStreamClosed
			}
			return nil
		}))

		resp, err := c.Model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", errors.New("llm: empty response")
		}

		content := resp.Choices[0].Content
		if streamed.Len() == 0 {
			// Provider ignored the streaming callback.
			if content != "" && !emit(content) {
				return "", errStreamClosed
			}
			return content, nil
		}
		if content == "" {
			content = streamed.String()
		}
		return content, nil
	})
}

func (c *LLMClient) Status() Status {
	return c.live.status()
}
