package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	CORSAllowOrigin  []string
	DatabaseURL      string
	ObjectStoreType  string
	LocalStoreDir    string
	AWSRegion        string
	S3Bucket         string
	S3Prefix         string
	SSEKMSKeyID      string
	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioBucket      string
	MinioUseSSL      bool
	SQSQueueURL      string
	OpenRouterAPIKey string
	OpenRouterURL    string
	DefaultModel     string
	PDFOCREngine     string
	LLMMaxTokens     int
	MaxUploadMB      int
	RateLimitPerMin  int
	ModelsFile       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files; existing variables win.
	for _, path := range []string{".env", "cmd/.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				log.Printf("config: load %s: %v", path, err)
			}
		}
	}

	env := normalizeEnv(getEnv("APP_ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:             getEnv("PORT", "8080"),
		Env:              env,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin:  splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:4321")),
		DatabaseURL:      dbURL,
		ObjectStoreType:  normalizeStoreType(getEnv("STORE_TYPE", "local")),
		LocalStoreDir:    getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:        getEnv("AWS_REGION", ""),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Prefix:         getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:      getEnv("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getEnv("MINIO_BUCKET", "foxdoc"),
		MinioUseSSL:      getEnvBool("MINIO_USE_SSL", false),
		SQSQueueURL:      getEnv("SQS_QUEUE_URL", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "anthropic/claude-sonnet-4.6"),
		PDFOCREngine:     getEnv("PDF_OCR_ENGINE", "mistral-ocr"),
		LLMMaxTokens:     getEnvInt("LLM_MAX_TOKENS", 32000),
		MaxUploadMB:      getEnvInt("MAX_UPLOAD_MB", 50),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MIN", 10),
		ModelsFile:       getEnv("MODELS_FILE", ""),
	}
}

// ModelOverrides is the optional YAML file listing extra known models.
//
//	models:
//	  - id: anthropic/claude-opus-4.6
//	    context_length: 1000000
type ModelOverrides struct {
	Models []ModelOverride `yaml:"models"`
}

type ModelOverride struct {
	ID            string `yaml:"id"`
	ContextLength int    `yaml:"context_length"`
}

// LoadModelOverrides reads the context-window override table. An empty path yields nil.
func LoadModelOverrides(path string) (map[string]int, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var doc ModelOverrides
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	out := make(map[string]int, len(doc.Models))
	for _, m := range doc.Models {
		if m.ID == "" || m.ContextLength <= 0 {
			continue
		}
		out[m.ID] = m.ContextLength
	}
	return out, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("config: invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}
