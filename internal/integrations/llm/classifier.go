// Package llm is the model-backed classifier: one remote completion call per
// change, a strict JSON response, and a cost estimate from reported usage.
package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"changelabel/internal/domain"
	"changelabel/internal/httpx"
)

var externalHTTPClient = httpx.ExternalHTTPClient()

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
)

// Classifier labels one change with a remote model.
type Classifier interface {
	Classify(ctx context.Context, title, body string) (Outcome, error)
}

type Outcome struct {
	Result   domain.ClassificationResult
	Cost     float64
	CallID   string
	Usage    LLMUsage
	Provider string
	Model    string
}

type ProviderConfig struct {
	Name    string
	Model   string
	APIKey  string
	BaseURL string
	Rates   Rates
}

type completion struct {
	Text  string
	ID    string
	Usage LLMUsage
}

type completionFunc func(ctx context.Context, p ProviderConfig, systemPrompt, userPrompt string) (completion, error)

type ModelClassifier struct {
	provider ProviderConfig
	call     completionFunc
}

// NewModelClassifier fills provider defaults (model, base URL, rates) and
// picks the transport for the provider.
func NewModelClassifier(p ProviderConfig) (*ModelClassifier, error) {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Rates == (Rates{}) {
		p.Rates = DefaultRates()
	}

	var call completionFunc
	switch p.Name {
	case ProviderAnthropic:
		if p.Model == "" {
			p.Model = defaultAnthropicModel
		}
		call = callAnthropic
	case ProviderOpenAI:
		if p.Model == "" {
			p.Model = defaultOpenAIModel
		}
		if p.BaseURL == "" {
			p.BaseURL = defaultOpenAIBaseURL
		}
		call = callOpenAICompatible
	case ProviderDeepSeek:
		if p.Model == "" {
			p.Model = defaultDeepSeekModel
		}
		if p.BaseURL == "" {
			p.BaseURL = defaultDeepSeekBaseURL
		}
		call = callOpenAICompatible
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p.Name)
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("%s api key is not set", p.Name)
	}
	return &ModelClassifier{provider: p, call: call}, nil
}

func (c *ModelClassifier) Provider() ProviderConfig {
	return c.provider
}

// Classify makes exactly one call. Errors, including an unparseable
// response, are returned to the caller without retry.
func (c *ModelClassifier) Classify(ctx context.Context, title, body string) (Outcome, error) {
	log.Printf("llm classify provider=%s model=%s title=%q", c.provider.Name, c.provider.Model, truncateTitle(title))

	resp, err := c.call(ctx, c.provider, SystemPrompt(), buildUserPrompt(title, body))
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Cost:     EstimateCost(resp.Usage, c.provider.Rates),
		CallID:   resp.ID,
		Usage:    resp.Usage,
		Provider: c.provider.Name,
		Model:    c.provider.Model,
	}

	result, err := parseClassification(resp.Text)
	if err != nil {
		return out, err
	}
	out.Result = result
	return out, nil
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return s
}
