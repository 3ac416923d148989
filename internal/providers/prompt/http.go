package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pixelsmith/internal/remote"
)

const enhancerDefaultTimeout = 15 * time.Second

// HTTPOptions configures the remote enhancer client.
type HTTPOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPEnhancer calls a generative-language endpoint to rewrite prompts. It
// performs a single attempt per call; retry policy belongs to the caller.
type HTTPEnhancer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type enhanceRequestBody struct {
	Contents         []enhanceContent       `json:"contents"`
	GenerationConfig *enhanceGenerateConfig `json:"generationConfig,omitempty"`
}

type enhanceContent struct {
	Role  string        `json:"role"`
	Parts []enhancePart `json:"parts"`
}

type enhancePart struct {
	Text string `json:"text,omitempty"`
}

type enhanceGenerateConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type enhanceResponseBody struct {
	Candidates []struct {
		Content enhanceContent `json:"content"`
	} `json:"candidates"`
}

// NewHTTPEnhancer builds the remote enhancer. The API key is required.
func NewHTTPEnhancer(opts HTTPOptions) (*HTTPEnhancer, error) {
	if opts.APIKey == "" {
		return nil, errors.New("prompt: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: enhancerDefaultTimeout}
	}
	return &HTTPEnhancer{apiKey: opts.APIKey, model: model, baseURL: baseURL, client: client}, nil
}

// Enhance rewrites the prompt through the remote model. Failures come back as
// typed remote errors so the caller's retry policy can distinguish them.
func (g *HTTPEnhancer) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	payload := enhanceRequestBody{
		Contents: []enhanceContent{{
			Role: "user",
			Parts: []enhancePart{{
				Text: g.buildInstruction(req),
			}},
		}},
		GenerationConfig: &enhanceGenerateConfig{Temperature: 0.5, CandidateCount: 1},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", remote.Permanent(0, fmt.Sprintf("encode request: %v", err), err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", remote.Permanent(0, fmt.Sprintf("build request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", remote.Transient(0, fmt.Sprintf("enhance call: %v", err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}
	var out enhanceResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", remote.Transient(resp.StatusCode, fmt.Sprintf("decode response: %v", err), err)
	}
	text := extractText(out)
	if text == "" {
		return "", remote.Transient(resp.StatusCode, "empty enhancement response", nil)
	}
	return text, nil
}

func (g *HTTPEnhancer) buildInstruction(req EnhanceRequest) string {
	var b strings.Builder
	b.WriteString("Rewrite the following image edit request into a single concise instruction ")
	b.WriteString("for an image generation model. Reply with the instruction only.\n\n")
	b.WriteString(strings.TrimSpace(req.Prompt))
	if style := strings.TrimSpace(req.Style); style != "" {
		b.WriteString("\n\nTarget quality: ")
		b.WriteString(style)
	}
	return b.String()
}

func extractText(resp enhanceResponseBody) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

// classifyStatus maps HTTP statuses onto the retry taxonomy: rate limits and
// upstream failures are transient, everything else 4xx is permanent.
func classifyStatus(status int) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return remote.Transient(status, "upstream unavailable", nil)
	default:
		return remote.Permanent(status, "request rejected", nil)
	}
}

var _ Enhancer = (*HTTPEnhancer)(nil)
