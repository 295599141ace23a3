package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/samantha-chat/internal/llm"
	"github.com/ent0n29/samantha-chat/internal/memory"
	"github.com/ent0n29/samantha-chat/internal/observability"
	"github.com/ent0n29/samantha-chat/internal/policy"
)

type ChatInput struct {
	UserID    int64
	Message   string
	Transport string
}

type ChatOutput struct {
	Response string `json:"response"`
	Emotion  string `json:"emotion"`
}

// Service runs chat turns: classify, generate, persist.
type Service struct {
	classifier *Classifier
	generator  *Generator
	store      memory.Store
	metrics    *observability.Metrics
}

func NewService(provider llm.Provider, store memory.Store, metrics *observability.Metrics) *Service {
	return &Service{
		classifier: NewClassifier(provider, metrics),
		generator:  NewGenerator(provider, metrics),
		store:      store,
		metrics:    metrics,
	}
}

// Chat never fails: provider errors become fallback values and a failed
// write is logged and dropped after the reply is already decided.
func (s *Service) Chat(ctx context.Context, in ChatInput) ChatOutput {
	log := observability.LoggerFromContext(ctx)
	started := time.Now()

	stageStart := time.Now()
	emotion := s.classifier.Classify(ctx, in.Message)
	s.metrics.ObserveStage(observability.StageClassify, time.Since(stageStart))

	stageStart = time.Now()
	response := s.generator.Generate(ctx, in.Message, emotion)
	s.metrics.ObserveStage(observability.StageGenerate, time.Since(stageStart))

	stageStart = time.Now()
	rec, err := s.store.Append(ctx, memory.Record{
		UserID:   in.UserID,
		Message:  in.Message,
		Response: response,
		Emotion:  emotion,
	})
	s.metrics.ObserveStage(observability.StagePersist, time.Since(stageStart))
	if err != nil {
		s.metrics.ObserveStoreError("append")
		log.Error("persist conversation failed", "user_id", in.UserID, "error", err)
	}

	s.metrics.ObserveStage(observability.StageChatTotal, time.Since(started))
	if s.metrics != nil {
		s.metrics.ChatTurns.WithLabelValues(transportLabel(in.Transport)).Inc()
	}

	log.Info("chat turn",
		"user_id", in.UserID,
		"record_id", rec.ID,
		"emotion", emotion,
		"message", policy.LogSafe(in.Message, 80),
		"response", policy.LogSafe(response, 80),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return ChatOutput{Response: response, Emotion: emotion}
}

// History returns the user's most recent records, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]memory.Record, error) {
	records, err := s.store.Recent(ctx, userID, limit)
	if err != nil {
		s.metrics.ObserveStoreError("recent")
		return nil, fmt.Errorf("load history for user %d: %w", userID, err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// Ping reports whether the conversation store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// StoreKind names the configured store backend.
func (s *Service) StoreKind() string {
	return memory.Kind(s.store)
}

func transportLabel(t string) string {
	if t == "" {
		return "http"
	}
	return t
}
