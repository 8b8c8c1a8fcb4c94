package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docmind/pkg/domain"
)

// GeminiChat talks to the Gemini API through the official SDK.
type GeminiChat struct {
	client *genai.Client
	model  string
}

// NewGeminiChat opens an SDK client authenticated with apiKey.
func NewGeminiChat(ctx context.Context, apiKey, model string) (*GeminiChat, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(apiKey)))
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &GeminiChat{client: client, model: strings.TrimSpace(model)}, nil
}

// Complete implements ChatModel. The last turn is sent as the new message and
// the ones before it become chat history.
func (g *GeminiChat) Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	history := geminiHistory(turns)
	if len(history) == 0 {
		return "", errors.New("gemini: conversation has no turns")
	}
	model := g.client.GenerativeModel(g.model)
	if strings.TrimSpace(systemPrompt) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	session := model.StartChat()
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", errors.New("gemini: last turn must come from the user")
	}
	session.History = history[:len(history)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Close releases the SDK client.
func (g *GeminiChat) Close() error {
	return g.client.Close()
}

// geminiHistory converts turns into SDK contents. Gemini expects the
// conversation to open with a user turn and to alternate roles, so adjacent
// turns of the same role are merged and a leading model turn gets a short
// user preamble.
func geminiHistory(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns)+1)
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		if len(out) == 0 && role == "model" {
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text("Please review this document.")}})
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			prev := out[n-1].Parts[0].(genai.Text)
			out[n-1].Parts[0] = genai.Text(string(prev) + "\n\n" + content)
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(content)}})
	}
	return out
}
