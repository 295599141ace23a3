package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider calls Gemini through the Gemini API or Vertex AI backend.
type GeminiProvider struct {
	client *genai.Client
	model  string
	name   string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: modelOrDefault(model), name: "gemini"}, nil
}

func NewVertexProvider(ctx context.Context, project, location, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(project) == "" || strings.TrimSpace(location) == "" {
		return nil, errors.New("vertex project and location must be set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}
	return &GeminiProvider{client: client, model: modelOrDefault(model), name: "vertex"}, nil
}

func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) Model() string { return p.model }

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", wrapErr(p.name, geminiStatus(err), fmt.Errorf("generate content: %w", err))
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		// Blocked prompts come back without candidates.
		return "", wrapErr(p.name, 0, ErrEmptyResponse)
	}
	return text, nil
}

// ListModels returns the model names visible to the configured credentials.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return names, wrapErr(p.name, geminiStatus(err), fmt.Errorf("list models: %w", err))
		}
		if m != nil {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

func modelOrDefault(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultGeminiModel
	}
	return model
}
