package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider forwards prompts to a generic JSON text-generation endpoint.
//
// Request:  POST {"prompt": "..."}
// Response: JSON object carrying the reply in text, output, message or
// response, or a plain-text body.
type HTTPProvider struct {
	url    string
	client *http.Client
}

type httpPromptRequest struct {
	Prompt string `json:"prompt"`
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(httpPromptRequest{Prompt: prompt})
	if err != nil {
		return "", wrapErr(p.Name(), 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", wrapErr(p.Name(), 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", wrapErr(p.Name(), 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", wrapErr(p.Name(), res.StatusCode, fmt.Errorf("http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", wrapErr(p.Name(), 0, fmt.Errorf("read response: %w", err))
	}

	var text string
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text = string(body)
	} else {
		text = extractText(obj)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", wrapErr(p.Name(), 0, ErrEmptyResponse)
	}
	return text, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
