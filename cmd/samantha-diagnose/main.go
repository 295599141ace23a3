package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/samantha-chat/internal/config"
	"github.com/ent0n29/samantha-chat/internal/llm"
)

const testPrompt = "Hello, please respond with 'OK' if you can see this message."

// modelLister is implemented by providers that can enumerate models.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type check struct {
	Name   string
	OK     bool
	Detail string
}

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "overall diagnostics timeout")
	showModels := flag.Int("models", 3, "number of model names to print")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "samantha-diagnose: .env: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "samantha-diagnose: config: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if !diagnose(ctx, cfg, *showModels, os.Stdout) {
		os.Exit(1)
	}
}

func diagnose(ctx context.Context, cfg config.Config, showModels int, out io.Writer) bool {
	fmt.Fprintf(out, "samantha-diagnose: provider=%s model=%s\n", cfg.LLMProvider, cfg.LLMModel)

	var checks []check
	if cfg.LLMProvider == "gemini" {
		checks = append(checks, checkGeminiKey(cfg.GeminiAPIKey)...)
	}

	provider, err := llm.NewProvider(ctx, providerConfig(cfg))
	if err != nil {
		checks = append(checks, check{Name: "provider init", Detail: err.Error()})
		return report(out, checks)
	}
	checks = append(checks, check{Name: "provider init", OK: true, Detail: provider.Name()})

	if lister, ok := provider.(modelLister); ok {
		names, err := lister.ListModels(ctx)
		if err != nil {
			checks = append(checks, check{Name: "list models", Detail: fmt.Sprintf("%s (%v)", llm.ErrorKind(err), err)})
		} else {
			shown := names[:min(showModels, len(names))]
			checks = append(checks, check{
				Name:   "list models",
				OK:     true,
				Detail: fmt.Sprintf("%d available; first: %s", len(names), strings.Join(shown, ", ")),
			})
		}
	}

	reply, err := provider.Generate(ctx, testPrompt)
	if err != nil {
		checks = append(checks, check{Name: "generate", Detail: fmt.Sprintf("%s (%v)", llm.ErrorKind(err), err)})
	} else {
		checks = append(checks, check{Name: "generate", OK: true, Detail: fmt.Sprintf("reply %q", reply)})
	}
	return report(out, checks)
}

// checkGeminiKey applies the AI Studio key shape: "AIza" prefix, 39 chars.
func checkGeminiKey(key string) []check {
	if key == "" || key == config.PlaceholderGeminiAPIKey {
		return []check{{Name: "api key present", Detail: "GEMINI_API_KEY is not set"}}
	}
	return []check{
		{Name: "api key present", OK: true, Detail: maskKey(key)},
		{Name: "api key prefix", OK: strings.HasPrefix(key, "AIza"), Detail: "expected prefix AIza"},
		{Name: "api key length", OK: len(key) == 39, Detail: fmt.Sprintf("expected 39 characters, got %d", len(key))},
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func providerConfig(cfg config.Config) llm.Config {
	return llm.Config{
		Mode:             cfg.LLMProvider,
		Model:            cfg.LLMModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GCPProject:       cfg.GCPProject,
		GCPLocation:      cfg.GCPLocation,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIModel,
		YandexOAuthToken: cfg.YandexOAuthToken,
		YandexFolderID:   cfg.YandexFolderID,
		HTTPURL:          cfg.LLMHTTPURL,
	}
}

func report(out io.Writer, checks []check) bool {
	allOK := true
	for _, c := range checks {
		mark := "ok  "
		if !c.OK {
			mark = "FAIL"
			allOK = false
		}
		fmt.Fprintf(out, "[%s] %-16s %s\n", mark, c.Name, c.Detail)
	}
	return allOK
}
