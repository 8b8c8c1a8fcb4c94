package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"docmind/pkg/domain"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-tesseract")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestTesseractEngineRunsCommand(t *testing.T) {
	script := writeScript(t, `test -f "$1" || exit 3
echo "lang=$4"
echo "arg2=$2"
`)
	engine, err := NewTesseractEngine(script, 5*time.Second)
	if err != nil {
		t.Fatalf("NewTesseractEngine() error = %v", err)
	}
	ex := newTestExtractor(t, engine, 1)

	text, err := ex.Extract(context.Background(), testPNG(t), "por")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "lang=por\narg2=stdout" {
		t.Fatalf("text = %q", text)
	}
}

func TestTesseractWorkerRemovesScratchDir(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	engine, err := NewTesseractEngine(script, time.Second)
	if err != nil {
		t.Fatalf("NewTesseractEngine() error = %v", err)
	}
	w, err := engine.NewWorker(context.Background(), "eng")
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	dir := w.(*tesseractWorker).dir
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("scratch dir missing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed, stat err = %v", err)
	}
}

func TestTesseractEngineSurfacesStderr(t *testing.T) {
	script := writeScript(t, "echo 'Failed loading language xyz' >&2\nexit 1\n")
	engine, err := NewTesseractEngine(script, time.Second)
	if err != nil {
		t.Fatalf("NewTesseractEngine() error = %v", err)
	}
	ex := newTestExtractor(t, engine, 1)

	_, err = ex.Extract(context.Background(), testPNG(t), "xyz")
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if !strings.Contains(err.Error(), "Failed loading language xyz") {
		t.Fatalf("err = %v, want stderr in message", err)
	}
}

func TestNewTesseractEngineMissingCommand(t *testing.T) {
	if _, err := NewTesseractEngine(filepath.Join(t.TempDir(), "missing-ocr"), time.Second); err == nil {
		t.Fatalf("expected missing command error")
	}
}
