// Package ai wraps the OpenAI endpoints used for chat moderation and
// consultation summaries.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"

	"go-counsel/internal/domain"
)

// Subject identifies who wrote the text under review.
type Subject struct {
	UserID string
	Role   domain.Role
}

type Verdict struct {
	Allowed  bool
	Reason   string
	Category string
}

// Moderator decides whether a chat message may be delivered.
type Moderator interface {
	Moderate(ctx context.Context, text string, subject Subject) (Verdict, error)
}

// AllowAll is used when no moderation backend is configured.
type AllowAll struct{}

func (AllowAll) Moderate(context.Context, string, Subject) (Verdict, error) {
	return Verdict{Allowed: true}, nil
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func newClient(cfg Config) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(config), nil
}

type OpenAIModerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIModerator(cfg Config) (*OpenAIModerator, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = openai.ModerationTextLatest
	}
	return &OpenAIModerator{client: client, model: cfg.Model}, nil
}

func (m *OpenAIModerator) Moderate(ctx context.Context, text string, subject Subject) (Verdict, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: m.model})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: moderation: %v", domain.ErrUpstream, err)
	}
	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		category := flaggedCategory(result.Categories)
		return Verdict{
			Allowed:  false,
			Reason:   blockedReason(category),
			Category: category,
		}, nil
	}
	return Verdict{Allowed: true}, nil
}

// flaggedCategory returns the first flagged category name in stable order.
func flaggedCategory(categories openai.ResultCategories) string {
	raw, err := json.Marshal(categories)
	if err != nil {
		return ""
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err != nil {
		return ""
	}
	names := make([]string, 0, len(flags))
	for name, flagged := range flags {
		if flagged {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

func blockedReason(category string) string {
	if category == "" {
		return "Your message was blocked because it violates our community guidelines."
	}
	return fmt.Sprintf("Your message was blocked because it appears to contain %s content.", category)
}
