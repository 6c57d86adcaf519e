// Package summary writes the AI summary of a finished consultation.
package summary

import (
	"context"
	"fmt"
	"log/slog"

	"go-counsel/internal/ai"
	"go-counsel/internal/message"
)

const transcriptLimit = 200

type Messages interface {
	ListRecent(ctx context.Context, consultationID string, limit int) ([]*message.Message, error)
}

type Store interface {
	SaveSummary(ctx context.Context, consultationID, summary string) error
}

type Generator interface {
	Summarize(ctx context.Context, transcript []ai.Line) (string, error)
}

type Service struct {
	messages  Messages
	store     Store
	generator Generator
	logger    *slog.Logger
}

func NewService(messages Messages, store Store, generator Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{messages: messages, store: store, generator: generator, logger: logger.With("component", "summary")}
}

// Summarize builds the transcript from chat history and stores the generated summary.
// System announcements are left out of the transcript.
func (s *Service) Summarize(ctx context.Context, consultationID string) error {
	msgs, err := s.messages.ListRecent(ctx, consultationID, transcriptLimit)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	transcript := make([]ai.Line, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case message.TypeText:
			transcript = append(transcript, ai.Line{Speaker: m.SenderName, Role: m.SenderRole, Text: m.Content})
		case message.TypeImage, message.TypeDocument:
			transcript = append(transcript, ai.Line{Speaker: m.SenderName, Role: m.SenderRole, Text: "[shared a file]"})
		}
	}
	if len(transcript) == 0 {
		return nil
	}

	text, err := s.generator.Summarize(ctx, transcript)
	if err != nil {
		return err
	}
	if err := s.store.SaveSummary(ctx, consultationID, text); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}

	s.logger.InfoContext(ctx, "consultation summarized",
		"operation", "consultation_summary",
		"outcome", "success",
		"consultation_id", consultationID,
		"lines", len(transcript),
	)
	return nil
}
