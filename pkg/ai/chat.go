// Package ai adapts chat-completion providers to one multi-turn interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docmind/pkg/domain"
)

// ErrEmptyResponse is returned when a provider answers without text.
var ErrEmptyResponse = errors.New("empty model response")

// Turn is one role-tagged entry of a conversation sent to a model.
type Turn struct {
	Role    domain.Role
	Content string
}

// ChatModel completes a conversation. The model name is fixed per client.
// The reply is the single first choice returned by the provider.
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

// Provider names accepted by NewChatModel.
const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewChatModel builds the configured provider client.
func NewChatModel(ctx context.Context, cfg Config) (ChatModel, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		gemini, err := NewGeminiChat(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return gemini, nil
	case ProviderOllama:
		return NewOllamaChat(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case ProviderOpenAICompat, "openai":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("openai-compat provider requires baseURL")
		}
		return NewOpenAICompatChat(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// wireRole maps a domain role onto the provider role names shared by the
// Ollama and OpenAI chat APIs.
func wireRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "assistant"
	}
	return "user"
}
