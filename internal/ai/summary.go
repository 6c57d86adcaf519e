package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"go-counsel/internal/domain"
)

const summaryPrompt = `You summarize legal consultations between a client and a lawyer.
Write a short neutral summary: the client's issue, the advice given, and any agreed next steps.
Do not invent facts that are not in the transcript.`

// Line is one transcript entry fed to the summarizer.
type Line struct {
	Speaker string
	Role    string
	Text    string
}

type OpenAISummarizer struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAISummarizer(cfg Config) (*OpenAISummarizer, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAISummarizer{client: client, model: cfg.Model, maxTokens: 500}, nil
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript []Line) (string, error) {
	if len(transcript) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, line := range transcript {
		fmt.Fprintf(&b, "%s (%s): %s\n", line.Speaker, line.Role, line.Text)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: summary: %v", domain.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: summary: empty response", domain.ErrUpstream)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
