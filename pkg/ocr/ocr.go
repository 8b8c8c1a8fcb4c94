// Package ocr turns image bytes into text through a pluggable OCR engine.
//
// Each Extract call acquires its own worker from the engine and always
// disposes of it before returning. A weighted semaphore bounds how many
// recognitions run at once across the process.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/semaphore"

	"docmind/internal/util"
	"docmind/pkg/domain"
)

const (
	defaultLanguage       = "eng"
	defaultMaxConcurrency = 2
)

var languagePattern = regexp.MustCompile(`^[a-z][a-z_]*(\+[a-z][a-z_]*)*$`)

// Engine creates recognition workers for a language.
type Engine interface {
	NewWorker(ctx context.Context, language string) (Worker, error)
}

// Worker recognizes text in a single image. Close releases everything the
// worker holds and must be safe to call after a failed Recognize.
type Worker interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close() error
}

// Config configures an Extractor.
type Config struct {
	Engine         Engine
	Language       string
	MaxConcurrency int
}

// Extractor runs OCR with bounded concurrency.
type Extractor struct {
	engine   Engine
	language string
	slots    *semaphore.Weighted
}

// NewExtractor validates cfg and applies defaults.
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.Engine == nil {
		return nil, errors.New("ocr engine required")
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	if !languagePattern.MatchString(language) {
		return nil, fmt.Errorf("invalid ocr language %q", language)
	}
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	return &Extractor{
		engine:   cfg.Engine,
		language: language,
		slots:    semaphore.NewWeighted(int64(limit)),
	}, nil
}

// Language returns the default recognition language.
func (e *Extractor) Language() string {
	return e.language
}

// Extract returns the text recognized in image. An empty languageHint uses
// the configured default.
func (e *Extractor) Extract(ctx context.Context, image []byte, languageHint string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: image is empty", domain.ErrValidation)
	}
	language := strings.ToLower(strings.TrimSpace(languageHint))
	if language == "" {
		language = e.language
	}
	if !languagePattern.MatchString(language) {
		return "", fmt.Errorf("%w: invalid language %q", domain.ErrValidation, languageHint)
	}
	if _, err := DetectFormat(image); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for ocr slot: %w", err)
	}
	defer e.slots.Release(1)

	worker, err := e.engine.NewWorker(ctx, language)
	if err != nil {
		return "", extractionError(ctx, "init worker", err)
	}
	defer func() {
		if cerr := worker.Close(); cerr != nil {
			util.LoggerFromContext(ctx).Warn("ocr worker close failed", "err", cerr)
		}
	}()

	text, err := worker.Recognize(ctx, image)
	if err != nil {
		return "", extractionError(ctx, "recognize", err)
	}
	return normalizeText(text), nil
}

// extractionError tags err as an extraction failure unless the caller's
// context ended, in which case the context error is reported as is.
func extractionError(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%s: %w", op, cerr)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrExtraction, op, err)
}

// normalizeText trims trailing whitespace on every line and drops leading and
// trailing blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
