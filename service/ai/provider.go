package ai

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"PetChat/tools/errs"
)

// Message is one turn handed to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions are per-call generation knobs. The dispatcher lowers them
// between retry attempts when the backend keeps returning empty output.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Provider is one pluggable LLM backend.
type Provider interface {
	Name() string
	GenerateContent(ctx context.Context, msgs []Message, opts GenerateOptions) (string, error)
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Type    string // "openai", "gemini" or "auto"
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Validate fails fast on non-transient misconfiguration. These failures never
// consume a retry budget or a circuit breaker failure slot.
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errs.Configf("missing api key")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errs.Configf("missing model")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errs.Configf("invalid base url %q", c.BaseURL)
		}
	}
	return nil
}

const geminiHost = "generativelanguage.googleapis.com"

var geminiModelPrefixes = []string{"gemini-", "models/gemini"}

// DetectProviderType resolves "auto" from the model name or endpoint host.
func DetectProviderType(model, baseURL string) string {
	lower := strings.ToLower(model)
	for _, p := range geminiModelPrefixes {
		if strings.HasPrefix(lower, p) {
			return "gemini"
		}
	}
	if strings.Contains(baseURL, geminiHost) {
		return "gemini"
	}
	return "openai"
}

// NewProvider builds the configured backend adapter.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	if typ == "" || typ == "auto" {
		typ = DetectProviderType(cfg.Model, cfg.BaseURL)
	}
	switch typ {
	case "gemini":
		return newGeminiProvider(cfg), nil
	case "openai":
		return newOpenAIProvider(cfg), nil
	default:
		return nil, errs.Configf("unknown provider type %q", cfg.Type)
	}
}

// statusError is a non-2xx backend reply; retryability depends on the code.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.code, e.body)
}

// errEmptyResponse marks a whitespace-only completion; the dispatcher retries
// it with degraded generation options.
var errEmptyResponse = fmt.Errorf("empty backend response")
