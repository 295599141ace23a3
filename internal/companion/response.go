package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/samantha-chat/internal/llm"
	"github.com/ent0n29/samantha-chat/internal/observability"
)

// FallbackResponse is returned to the user whenever generation fails.
const FallbackResponse = "Sorry, I can't respond right now. Please try again later."

const responsePromptTemplate = `You are Samantha, an intelligent and warm AI companion.
The user's current emotion: %s.
Match your tone to it:
- if the user is sad, be supportive and comforting;
- if the user is happy, celebrate with them;
- if the user is angry, stay calm and understanding;
- otherwise, be friendly and natural.
Keep the reply under 100 characters and answer in the same language the user writes in.
Message: %s`

// Generator produces Samantha's reply with one provider call.
type Generator struct {
	provider llm.Provider
	metrics  *observability.Metrics
}

func NewGenerator(provider llm.Provider, metrics *observability.Metrics) *Generator {
	return &Generator{provider: provider, metrics: metrics}
}

// Generate returns the trimmed reply, or FallbackResponse if the call fails.
// The length hint in the prompt is not enforced here.
func (g *Generator) Generate(ctx context.Context, message, emotion string) string {
	started := time.Now()
	out, err := g.provider.Generate(ctx, ResponsePrompt(message, emotion))
	g.metrics.ObserveProviderCall(g.provider.Name(), "response", llm.ErrorKind(err), time.Since(started))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("response generation failed",
			"provider", g.provider.Name(),
			"kind", llm.ErrorKind(err),
			"error", err,
		)
		g.metrics.ObserveFallback("response")
		return FallbackResponse
	}

	reply := strings.TrimSpace(out)
	if reply == "" {
		g.metrics.ObserveFallback("response")
		return FallbackResponse
	}
	return reply
}

// ResponsePrompt builds the persona prompt for message given its emotion.
func ResponsePrompt(message, emotion string) string {
	return fmt.Sprintf(responsePromptTemplate, emotion, message)
}
