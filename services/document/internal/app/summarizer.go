package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/domain"
)

const summarySystemPrompt = `You summarize scanned documents for the person who uploaded them.
Respond in Markdown with exactly these four sections, in this order:

## Document Type
What kind of document this is (invoice, contract, letter, form, ...).

## Executive Summary
Two or three sentences on what the document says and why it matters.

## Key Details
A bulleted list of names, dates, amounts, identifiers and deadlines found in the text.

## Plain-Language Explanation
What the document means for the reader, without jargon.

Use only the text provided. If something is unreadable, say so instead of guessing.`

// Summarizer turns extracted text into a sectioned summary.
type Summarizer struct {
	model   ai.ChatModel
	timeout time.Duration
}

func NewSummarizer(model ai.ChatModel, timeout time.Duration) *Summarizer {
	return &Summarizer{model: model, timeout: timeout}
}

// Summarize always returns a non-empty summary. Model failures are logged
// and replaced by a fallback with the same sections.
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return fallbackSummary("no readable text was extracted from this document")
	}
	logger := util.LoggerFromContext(ctx)
	if s.model == nil {
		logger.Warn("summarize skipped", "err", fmt.Errorf("%w: no model configured", domain.ErrModel))
		return fallbackSummary("no language model is configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.model.Complete(ctx, summarySystemPrompt, []ai.Turn{{
		Role:    domain.RoleUser,
		Content: "Document text:\n\n" + text,
	}})
	if err == nil && strings.TrimSpace(out) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		logger.Warn("summarize failed", "err", fmt.Errorf("%w: %w", domain.ErrModel, err))
		return fallbackSummary("the language model did not respond")
	}
	return strings.TrimSpace(out)
}

func fallbackSummary(reason string) string {
	return "## Document Type\nUnknown\n\n" +
		"## Executive Summary\nSummary unavailable: " + reason + ".\n\n" +
		"## Key Details\nNone extracted.\n\n" +
		"## Plain-Language Explanation\nThe document was stored and its text can still be discussed once it is readable."
}
