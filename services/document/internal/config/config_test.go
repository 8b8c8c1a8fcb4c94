package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
port: "9090"
store:
  driver: memory
storage:
  driver: memory
llm:
  provider: ollama
  baseURL: http://localhost:11434
  model: llama3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.Chat.HistoryWindow != 10 {
		t.Fatalf("history window = %d, want 10", cfg.Chat.HistoryWindow)
	}
	if cfg.OCR.Engine != "tesseract" || cfg.OCR.Language != "eng" || cfg.OCR.MaxConcurrency != 2 {
		t.Fatalf("ocr = %+v", cfg.OCR)
	}
	if cfg.LLMTimeout() != 60*time.Second {
		t.Fatalf("llm timeout = %v, want 60s", cfg.LLMTimeout())
	}
	if cfg.MaxUploadBytes != 20*1024*1024 {
		t.Fatalf("max upload = %d", cfg.MaxUploadBytes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCMIND_CHAT_HISTORY_WINDOW", "4")
	t.Setenv("DOCMIND_OCR_LANGUAGE", "deu")
	t.Setenv("DOCMIND_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DOCMIND_LLM_MODEL", "qwen2")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.HistoryWindow != 4 {
		t.Fatalf("history window = %d, want 4", cfg.Chat.HistoryWindow)
	}
	if cfg.OCR.Language != "deu" {
		t.Fatalf("ocr language = %q, want deu", cfg.OCR.Language)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.LLM.Model != "qwen2" {
		t.Fatalf("redis = %q model = %q", cfg.RedisAddr, cfg.LLM.Model)
	}
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("DOCMIND_STORE_DRIVER", "memory")
	t.Setenv("DOCMIND_STORAGE_DRIVER", "memory")
	t.Setenv("DOCMIND_LLM_PROVIDER", "openai-compat")
	t.Setenv("DOCMIND_LLM_BASE_URL", "http://llm.local/v1")
	t.Setenv("DOCMIND_LLM_MODEL", "gpt-4o-mini")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LLM.Provider != "openai-compat" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_API_KEY", "")
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"postgres needs url", strings.Replace(minimalYAML, "driver: memory\nstorage", "driver: postgres\nstorage", 1), "databaseURL"},
		{"unknown storage", strings.Replace(minimalYAML, "  driver: memory\nllm", "  driver: gcs\nllm", 1), "storage.driver"},
		{"minio needs endpoint", strings.Replace(minimalYAML, "  driver: memory\nllm", "  driver: minio\nllm", 1), "storage.endpoint"},
		{"gemini needs key", strings.Replace(minimalYAML, "provider: ollama", "provider: gemini", 1), "llm.apiKey"},
		{"unknown engine", minimalYAML + "ocr:\n  engine: paddle\n", "ocr.engine"},
		{"negative window", minimalYAML + "chat:\n  historyWindow: -1\n", "historyWindow"},
		{"bad leeway", minimalYAML + "auth:\n  leeway: soon\n", "leeway"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "port: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
