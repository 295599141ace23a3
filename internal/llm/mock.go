package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider provides deterministic local replies when no provider is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", wrapErr(p.Name(), 0, ctx.Err())
	default:
	}
	return buildMockReply(prompt), nil
}

// buildMockReply answers label-style prompts with a label and everything else
// by echoing the prompt's final line.
func buildMockReply(prompt string) string {
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "happy, sad, angry, calm, neutral") {
		return mockEmotion(lastLine(prompt))
	}

	base := lastLine(prompt)
	if base == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base)
}

func mockEmotion(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "happy", "great", "glad", "开心", "高兴"):
		return "happy"
	case containsAny(lower, "sad", "down", "lonely", "难过", "伤心"):
		return "sad"
	case containsAny(lower, "angry", "furious", "annoyed", "生气"):
		return "angry"
	case containsAny(lower, "calm", "relaxed", "peaceful", "平静"):
		return "calm"
	default:
		return "neutral"
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if _, after, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(after) != "" {
			return strings.TrimSpace(after)
		}
		return line
	}
	return ""
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
