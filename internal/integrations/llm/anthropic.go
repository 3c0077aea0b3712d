package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

func callAnthropic(ctx context.Context, p ProviderConfig, systemPrompt, userPrompt string) (completion, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey),
		option.WithHTTPClient(externalHTTPClient),
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return completion{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
		Reported:                 true,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response id=%s size=%d tokens_in=%d tokens_out=%d", message.ID, len(block.Text), usage.InputTokens, usage.OutputTokens)
			return completion{Text: block.Text, ID: message.ID, Usage: usage}, nil
		}
	}
	return completion{ID: message.ID, Usage: usage}, fmt.Errorf("no text content in Anthropic response")
}
