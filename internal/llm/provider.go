package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/samantha-chat/internal/reliability"
)

// ErrEmptyResponse is returned when the provider answered without any text.
var ErrEmptyResponse = errors.New("provider returned empty text")

// Provider sends a single prompt to a text-generation service. Implementations
// make exactly one attempt per call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelName reports the model a provider sends prompts to, or "" when the
// remote side picks it.
func ModelName(p Provider) string {
	if m, ok := p.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// ProviderError wraps every failure surfaced by a Provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Kind is a coarse failure label for logs and metrics.
func (e *ProviderError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrEmptyResponse):
		return "empty_response"
	case e.StatusCode > 0:
		return reliability.ClassifyHTTPStatus(e.StatusCode)
	default:
		return reliability.ClassifyError(e.Err)
	}
}

// ErrorKind returns the failure label of any error returned by a Provider.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind()
	}
	return reliability.ClassifyError(err)
}

func wrapErr(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}

// Config controls provider construction.
type Config struct {
	Mode string

	Model        string
	GeminiAPIKey string
	GCPProject   string
	GCPLocation  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	YandexOAuthToken string
	YandexFolderID   string

	HTTPURL string
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "gemini"
	}

	switch mode {
	case "gemini":
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Model)
	case "vertex":
		return NewVertexProvider(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.Model)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case "yandex":
		if strings.TrimSpace(cfg.YandexFolderID) == "" {
			return nil, errors.New("yandex folder id is required for yandex mode")
		}
		return NewYandexProvider(cfg.YandexOAuthToken, cfg.YandexFolderID), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPProvider(cfg.HTTPURL), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode %q", cfg.Mode)
	}
}
