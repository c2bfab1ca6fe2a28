package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicEndpoint = "anthropic messages"

// LLMClient is a thin wrapper over the Anthropic API for single-shot
// completions. The fix pipeline supplies its own system prompt and
// parses the returned text itself.
type LLMClient struct {
	client  anthropic.Client
	model   string
	breaker *Breaker
}

func NewLLMClient(apiKey, model string, breaker *Breaker) *LLMClient {
	return &LLMClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		breaker: breaker,
	}
}

// Complete sends one user message and returns the concatenated text
// blocks of the reply.
func (c *LLMClient) Complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	if !c.breaker.Allow(anthropicEndpoint) {
		return "", fmt.Errorf("circuit open for anthropic API")
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.breaker.RecordFailure(anthropicEndpoint)
		return "", fmt.Errorf("anthropic message failed: %w", err)
	}
	c.breaker.RecordSuccess(anthropicEndpoint)

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic response contained no text blocks")
	}
	return text.String(), nil
}
