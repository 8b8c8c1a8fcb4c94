package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultTesseractTimeout = 2 * time.Minute

// TesseractEngine shells out to the tesseract CLI. Every worker owns a
// private scratch directory that is removed on Close.
type TesseractEngine struct {
	command string
	timeout time.Duration
}

// NewTesseractEngine resolves command on PATH (default "tesseract").
func NewTesseractEngine(command string, timeout time.Duration) (*TesseractEngine, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		command = "tesseract"
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("ocr command %q not found: %w", command, err)
	}
	if timeout <= 0 {
		timeout = defaultTesseractTimeout
	}
	return &TesseractEngine{command: resolved, timeout: timeout}, nil
}

// NewWorker implements Engine.
func (e *TesseractEngine) NewWorker(_ context.Context, language string) (Worker, error) {
	dir, err := os.MkdirTemp("", "docmind-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create ocr scratch dir: %w", err)
	}
	return &tesseractWorker{engine: e, dir: dir, language: language}, nil
}

type tesseractWorker struct {
	engine   *TesseractEngine
	dir      string
	language string
}

func (w *tesseractWorker) Recognize(ctx context.Context, image []byte) (string, error) {
	input := filepath.Join(w.dir, "input")
	if err := os.WriteFile(input, image, 0o600); err != nil {
		return "", fmt.Errorf("write ocr input: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.engine.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.engine.command, input, "stdout", "-l", w.language)
	cmd.Dir = w.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("ocr timed out after %s", w.engine.timeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("run ocr command: %w", err)
		}
		return "", fmt.Errorf("run ocr command: %w: %s", err, msg)
	}
	return stdout.String(), nil
}

func (w *tesseractWorker) Close() error {
	return os.RemoveAll(w.dir)
}
