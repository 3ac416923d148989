package image

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

const synthDefaultTimeout = 60 * time.Second

// HTTPOptions configures the synthesis client.
type HTTPOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// HTTPSynthesizer calls a multimodal generation endpoint. One attempt per
// call; the caller owns retries.
type HTTPSynthesizer struct {
	httpClient *http.Client
	baseURL    string
	model      string
	token      string
}

// NewHTTPSynthesizer builds the synthesis client. The API key is required.
func NewHTTPSynthesizer(opts HTTPOptions) (*HTTPSynthesizer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("image: api key is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-edit"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: synthDefaultTimeout}
	}
	return &HTTPSynthesizer{httpClient: client, baseURL: base, model: model, token: strings.TrimSpace(opts.APIKey)}, nil
}

type synthRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []synthMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		Quality   string `json:"quality,omitempty"`
		Watermark bool   `json:"watermark"`
	} `json:"parameters"`
}

type synthMessage struct {
	Role    string              `json:"role"`
	Content []map[string]string `json:"content"`
}

type synthResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []map[string]string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Synthesize runs one generation call and returns the hosted result URL.
func (c *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, remote.Permanent(0, "prompt is required", nil)
	}
	var payload synthRequest
	payload.Model = c.model
	content := make([]map[string]string, 0, len(req.ImageURIs)+1)
	for _, uri := range req.ImageURIs {
		if trimmed := strings.TrimSpace(uri); trimmed != "" {
			content = append(content, map[string]string{"image": trimmed})
		}
	}
	content = append(content, map[string]string{"text": req.Prompt})
	payload.Input.Messages = append(payload.Input.Messages, synthMessage{Role: "user", Content: content})
	payload.Parameters.Quality = strings.TrimSpace(req.Quality)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, remote.Permanent(0, fmt.Sprintf("encode request: %v", err), err)
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, remote.Permanent(0, fmt.Sprintf("build request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, remote.Transient(0, fmt.Sprintf("synthesis call: %v", err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out synthResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil && resp.StatusCode < 300 {
		return nil, remote.Transient(resp.StatusCode, fmt.Sprintf("decode response: %v", decodeErr), decodeErr)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyFailure(resp.StatusCode, out.Code, out.Message)
	}
	if out.Code != "" {
		return nil, classifyFailure(resp.StatusCode, out.Code, out.Message)
	}

	url := extractResultURL(out)
	if url == "" {
		return nil, remote.Transient(resp.StatusCode, "response carried no image", nil)
	}
	return &Result{URL: url, ContentType: "image/jpeg"}, nil
}

func extractResultURL(resp synthResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, part := range choice.Message.Content {
			if url := strings.TrimSpace(part["image"]); url != "" {
				return url
			}
		}
	}
	return ""
}

// classifyFailure folds HTTP status and the body-level error code into the
// retry taxonomy. Throttling and capacity codes in the body are transient
// even when the status is 200.
func classifyFailure(status int, code, message string) error {
	lower := strings.ToLower(code + " " + message)
	if status == http.StatusTooManyRequests || status >= 500 {
		return remote.Transient(status, failureMessage(code, message), nil)
	}
	if strings.Contains(lower, "throttl") || strings.Contains(lower, "rate") ||
		strings.Contains(lower, "capacity") || strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "timeout") {
		return remote.Transient(status, failureMessage(code, message), nil)
	}
	return remote.Permanent(status, failureMessage(code, message), nil)
}

func failureMessage(code, message string) string {
	if code == "" {
		return message
	}
	if message == "" {
		return code
	}
	return code + ": " + message
}

var _ Synthesizer = (*HTTPSynthesizer)(nil)
