package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultOpenAIModel     = "gpt-4.1-mini"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepSeekModel   = "deepseek-chat"
	defaultDeepSeekBaseURL = "https://api.deepseek.com"
)

type openAIRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

// callOpenAICompatible talks to any chat-completions endpoint (OpenAI, DeepSeek).
func callOpenAICompatible(ctx context.Context, p ProviderConfig, systemPrompt, userPrompt string) (completion, error) {
	reqBody := openAIRequest{
		Model: p.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := strings.TrimRight(p.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return completion{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		log.Printf("llm %s error: %v", p.Name, err)
		return completion{}, fmt.Errorf("%s API error: %w", p.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion{}, fmt.Errorf("reading response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return completion{}, fmt.Errorf("%s API returned %d with non-JSON body: %s", p.Name, resp.StatusCode, truncateForError(string(respBody)))
	}

	parsed := gjson.ParseBytes(respBody)
	if msg := parsed.Get("error.message"); msg.Exists() {
		log.Printf("llm %s api error: %s", p.Name, msg.String())
		return completion{}, fmt.Errorf("%s API error: %s", p.Name, msg.String())
	}
	if resp.StatusCode != http.StatusOK {
		return completion{}, fmt.Errorf("%s API returned %d: %s", p.Name, resp.StatusCode, truncateForError(string(respBody)))
	}

	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return completion{}, fmt.Errorf("no choices in %s response", p.Name)
	}

	usage := LLMUsage{}
	if u := parsed.Get("usage"); u.Exists() && u.IsObject() {
		usage.InputTokens = u.Get("prompt_tokens").Int()
		usage.OutputTokens = u.Get("completion_tokens").Int()
		usage.Reported = true
	}

	id := parsed.Get("id").String()
	log.Printf("llm %s response id=%s size=%d tokens_in=%d tokens_out=%d", p.Name, id, len(content.String()), usage.InputTokens, usage.OutputTokens)
	return completion{Text: content.String(), ID: id, Usage: usage}, nil
}
