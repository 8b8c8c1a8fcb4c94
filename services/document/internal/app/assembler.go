package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/store"
)

// DefaultHistoryWindow is how many recent messages reach the model per turn.
const DefaultHistoryWindow = 10

// ChatTurn is one persisted user message and the reply, if any.
type ChatTurn struct {
	UserMessage      domain.Message  `json:"userMessage"`
	AssistantMessage *domain.Message `json:"assistantMessage,omitempty"`
}

// Assembler builds the model context for a conversation turn from the
// document text and a bounded window of recent messages.
type Assembler struct {
	store   store.Store
	model   ai.ChatModel
	window  int
	timeout time.Duration
}

func NewAssembler(st store.Store, model ai.ChatModel, window int, timeout time.Duration) *Assembler {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Assembler{store: st, model: model, window: window, timeout: timeout}
}

// Ask records a message on documentID. User messages get a model reply
// when the document has text; assistant messages are stored as given.
// The user message is persisted before the model is called and survives a
// model failure.
func (a *Assembler) Ask(ctx context.Context, documentID string, role domain.Role, content string) (ChatTurn, error) {
	if !role.Valid() {
		return ChatTurn{}, fmt.Errorf("%w: invalid role %q", domain.ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return ChatTurn{}, fmt.Errorf("%w: content required", domain.ErrValidation)
	}
	msg, err := a.store.AppendMessage(documentID, role, content)
	if err != nil {
		return ChatTurn{}, err
	}
	turn := ChatTurn{UserMessage: msg}
	if role != domain.RoleUser {
		return turn, nil
	}

	logger := util.LoggerFromContext(ctx).With("document_id", documentID)
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return turn, err
	}
	if !ok {
		return turn, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return turn, nil
	}
	history, err := a.store.ListRecentMessages(documentID, a.window)
	if err != nil {
		return turn, err
	}
	if a.model == nil {
		logger.Warn("chat reply skipped", "err", fmt.Errorf("%w: no model configured", domain.ErrModel))
		return turn, nil
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	reply, err := a.model.Complete(callCtx, chatSystemPrompt(doc), historyTurns(history))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		logger.Warn("chat reply failed", "err", fmt.Errorf("%w: %w", domain.ErrModel, err))
		return turn, nil
	}
	answer, err := a.store.AppendMessage(documentID, domain.RoleAssistant, strings.TrimSpace(reply))
	if err != nil {
		logger.Warn("store chat reply failed", "err", err)
		return turn, nil
	}
	turn.AssistantMessage = &answer
	return turn, nil
}

func chatSystemPrompt(doc domain.Document) string {
	var b strings.Builder
	b.WriteString("You are an assistant helping the user understand one document they uploaded.\n")
	b.WriteString("Answer only from the document text below. If the answer is not in the document, say that it is not there.\n")
	b.WriteString("Keep answers short and concrete.\n\n")
	b.WriteString("Document: ")
	b.WriteString(doc.DisplayName)
	b.WriteString("\n---\n")
	b.WriteString(doc.ExtractedText)
	b.WriteString("\n---")
	return b.String()
}

func historyTurns(msgs []domain.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
