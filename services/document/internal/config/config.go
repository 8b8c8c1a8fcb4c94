package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is where the service looks for its YAML file by default.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string          `yaml:"port"`
	LogLevel       string          `yaml:"logLevel"`
	Store          StoreConfig     `yaml:"store"`
	Storage        StorageConfig   `yaml:"storage"`
	OCR            OCRConfig       `yaml:"ocr"`
	LLM            LLMConfig       `yaml:"llm"`
	Chat           ChatConfig      `yaml:"chat"`
	MaxUploadBytes int64           `yaml:"maxUploadBytes"`
	RedisAddr      string          `yaml:"redisAddr"`
	RedisPassword  string          `yaml:"redisPassword"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Auth           AuthConfig      `yaml:"auth"`
	CORSOrigins    []string        `yaml:"corsOrigins"`
	TrustedProxies []string        `yaml:"trustedProxyCidrs"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"databaseURL"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"useSSL"`
	PathStyle     bool   `yaml:"pathStyle"`
	PublicBaseURL string `yaml:"publicBaseURL"`
}

type OCRConfig struct {
	Engine          string `yaml:"engine"`
	Command         string `yaml:"command"`
	Language        string `yaml:"language"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds"`
	MaxConcurrency  int    `yaml:"maxConcurrency"`
	CredentialsFile string `yaml:"credentialsFile"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"baseURL"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type ChatConfig struct {
	HistoryWindow int `yaml:"historyWindow"`
}

type RateLimitConfig struct {
	UploadsPerMinute  int `yaml:"uploadsPerMinute"`
	MessagesPerMinute int `yaml:"messagesPerMinute"`
}

type AuthConfig struct {
	JWKSURL  string `yaml:"jwksURL"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	Leeway   string `yaml:"leeway"`
}

// Load reads config from path (defaults to config.yaml), then a .env file
// if present, then environment overrides. A missing YAML file is allowed
// when the environment supplies everything required.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	_ = godotenv.Load()

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "DOCMIND_PORT")
	setString(&cfg.LogLevel, "DOCMIND_LOG_LEVEL")
	setString(&cfg.Store.Driver, "DOCMIND_STORE_DRIVER")
	setString(&cfg.Store.DatabaseURL, "DATABASE_URL")

	setString(&cfg.Storage.Driver, "DOCMIND_STORAGE_DRIVER")
	setString(&cfg.Storage.Endpoint, "DOCMIND_STORAGE_ENDPOINT")
	setString(&cfg.Storage.Region, "DOCMIND_STORAGE_REGION")
	setString(&cfg.Storage.AccessKey, "DOCMIND_STORAGE_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "DOCMIND_STORAGE_SECRET_KEY")
	setString(&cfg.Storage.Bucket, "DOCMIND_STORAGE_BUCKET")
	setString(&cfg.Storage.PublicBaseURL, "DOCMIND_STORAGE_PUBLIC_BASE_URL")
	setBool(&cfg.Storage.UseSSL, "DOCMIND_STORAGE_USE_SSL")
	setBool(&cfg.Storage.PathStyle, "DOCMIND_STORAGE_PATH_STYLE")

	setString(&cfg.OCR.Engine, "DOCMIND_OCR_ENGINE")
	setString(&cfg.OCR.Command, "DOCMIND_OCR_COMMAND")
	setString(&cfg.OCR.Language, "DOCMIND_OCR_LANGUAGE")
	setInt(&cfg.OCR.MaxConcurrency, "DOCMIND_OCR_MAX_CONCURRENCY")
	setInt(&cfg.OCR.TimeoutSeconds, "DOCMIND_OCR_TIMEOUT_SECONDS")
	setString(&cfg.OCR.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	setString(&cfg.LLM.Provider, "DOCMIND_LLM_PROVIDER")
	setString(&cfg.LLM.BaseURL, "DOCMIND_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	setString(&cfg.LLM.APIKey, "DOCMIND_LLM_API_KEY")
	setString(&cfg.LLM.Model, "DOCMIND_LLM_MODEL")
	setInt(&cfg.LLM.TimeoutSeconds, "DOCMIND_LLM_TIMEOUT_SECONDS")

	setInt(&cfg.Chat.HistoryWindow, "DOCMIND_CHAT_HISTORY_WINDOW")
	if v := os.Getenv("DOCMIND_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RateLimit.UploadsPerMinute, "DOCMIND_UPLOAD_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RateLimit.MessagesPerMinute, "DOCMIND_MESSAGE_RATE_LIMIT_PER_MINUTE")

	setString(&cfg.Auth.JWKSURL, "DOCMIND_AUTH_JWKS_URL")
	setString(&cfg.Auth.Issuer, "DOCMIND_AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "DOCMIND_AUTH_AUDIENCE")
	if v := os.Getenv("DOCMIND_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("DOCMIND_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "minio"
	}
	if cfg.OCR.Engine == "" {
		cfg.OCR.Engine = "tesseract"
	}
	if cfg.OCR.Command == "" {
		cfg.OCR.Command = "tesseract"
	}
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
	if cfg.OCR.TimeoutSeconds <= 0 {
		cfg.OCR.TimeoutSeconds = 60
	}
	if cfg.OCR.MaxConcurrency <= 0 {
		cfg.OCR.MaxConcurrency = 2
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.Chat.HistoryWindow == 0 {
		cfg.Chat.HistoryWindow = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 * 1024 * 1024
	}
	if cfg.RateLimit.UploadsPerMinute <= 0 {
		cfg.RateLimit.UploadsPerMinute = 10
	}
	if cfg.RateLimit.MessagesPerMinute <= 0 {
		cfg.RateLimit.MessagesPerMinute = 30
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return errors.New("config: store.databaseURL is required for the postgres driver (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown store.driver %q (postgres|memory)", cfg.Store.Driver)
	}

	switch cfg.Storage.Driver {
	case "minio":
		if cfg.Storage.Endpoint == "" {
			return errors.New("config: storage.endpoint is required for the minio driver")
		}
		if cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "" {
			return errors.New("config: storage.accessKey and storage.secretKey are required for the minio driver")
		}
		if cfg.Storage.Bucket == "" {
			return errors.New("config: storage.bucket is required")
		}
	case "s3":
		if cfg.Storage.Bucket == "" {
			return errors.New("config: storage.bucket is required")
		}
		if cfg.Storage.Region == "" {
			return errors.New("config: storage.region is required for the s3 driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q (minio|s3|memory)", cfg.Storage.Driver)
	}

	switch cfg.OCR.Engine {
	case "tesseract", "vision":
	default:
		return fmt.Errorf("config: unknown ocr.engine %q (tesseract|vision)", cfg.OCR.Engine)
	}

	switch cfg.LLM.Provider {
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("config: llm.apiKey is required for the gemini provider (set in config.yaml or GEMINI_API_KEY)")
		}
	case "ollama", "openai-compat", "openai":
		if cfg.LLM.BaseURL == "" {
			return fmt.Errorf("config: llm.baseURL is required for the %s provider", cfg.LLM.Provider)
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q (gemini|ollama|openai-compat)", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		return errors.New("config: llm.model is required")
	}
	if cfg.Chat.HistoryWindow <= 0 {
		return errors.New("config: chat.historyWindow must be positive")
	}
	if _, err := ParseJWTLeeway(cfg.Auth.Leeway); err != nil {
		return err
	}
	return nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid auth.leeway duration: %w", err)
	}
	return dur, nil
}

// OCRTimeout returns the per-recognition timeout.
func (c FileConfig) OCRTimeout() time.Duration {
	return time.Duration(c.OCR.TimeoutSeconds) * time.Second
}

// LLMTimeout returns the per-call model timeout.
func (c FileConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
