package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/samantha-chat/internal/llm"
	"github.com/ent0n29/samantha-chat/internal/observability"
)

// FallbackEmotion is reported whenever classification fails.
const FallbackEmotion = "neutral"

// EmotionLabels are the labels the classification prompt asks for. Replies
// are not checked against them.
var EmotionLabels = []string{"happy", "sad", "angry", "calm", "neutral"}

const emotionPromptTemplate = `Classify the emotion expressed in the text below.
Reply with exactly one word from this list: %s.
Text: %s`

// Classifier labels the emotion of a user message with one provider call.
type Classifier struct {
	provider llm.Provider
	metrics  *observability.Metrics
}

func NewClassifier(provider llm.Provider, metrics *observability.Metrics) *Classifier {
	return &Classifier{provider: provider, metrics: metrics}
}

// Classify returns the provider's lower-cased label, or FallbackEmotion if the
// call fails. It never returns an empty string.
func (c *Classifier) Classify(ctx context.Context, text string) string {
	started := time.Now()
	out, err := c.provider.Generate(ctx, EmotionPrompt(text))
	c.metrics.ObserveProviderCall(c.provider.Name(), "emotion", llm.ErrorKind(err), time.Since(started))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("emotion classification failed",
			"provider", c.provider.Name(),
			"kind", llm.ErrorKind(err),
			"error", err,
		)
		c.metrics.ObserveFallback("emotion")
		return FallbackEmotion
	}

	label := strings.ToLower(strings.TrimSpace(out))
	if label == "" {
		c.metrics.ObserveFallback("emotion")
		return FallbackEmotion
	}
	return label
}

// EmotionPrompt builds the classification prompt for text.
func EmotionPrompt(text string) string {
	return fmt.Sprintf(emotionPromptTemplate, strings.Join(EmotionLabels, ", "), text)
}
