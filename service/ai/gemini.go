package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PetChat/logger"
	"PetChat/tools/errs"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com"

// geminiProvider calls the Gemini generateContent REST endpoint.
type geminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func newGeminiProvider(cfg ProviderConfig) *geminiProvider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGeminiBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &geminiProvider{
		apiKey:  cfg.APIKey,
		model:   strings.TrimPrefix(cfg.Model, "models/"),
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *geminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *geminiProvider) GenerateContent(ctx context.Context, msgs []Message, opts GenerateOptions) (string, error) {
	req := geminiRequest{}
	for _, m := range msgs {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	req.GenerationConfig.Temperature = opts.Temperature
	req.GenerationConfig.MaxOutputTokens = opts.MaxTokens

	body, err := json.Marshal(req)
	if err != nil {
		return "", errs.Wrap(err, "marshal request")
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Wrap(err, "generateContent")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(raw), 256)}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errs.Wrap(err, "decode response")
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errEmptyResponse
	}
	content := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if content == "" {
		return "", errEmptyResponse
	}

	logger.Debugf("[Gemini] model=%s latency=%dms bytes=%d", p.model, time.Since(start).Milliseconds(), len(raw))
	return content, nil
}
