package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	CaptionModel      string `json:"caption_model"`
	EmbeddingModel    string `json:"embedding_model"`
	ChatModel         string `json:"chat_model"`
	UploadDir         string `json:"upload_dir"`
	KeyframeDir       string `json:"keyframe_dir"`
	Store             string `json:"store"` // "local", "pgvector", "milvus"
	RemoteContextURL  string `json:"remote_context_url"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

var globalConfig *Config

// Load returns the process-wide configuration, reading config.json once
// and letting environment variables override individual fields.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	config := &Config{
		BaseURL:           "https://api.openai.com/v1",
		CaptionModel:      "gpt-4o-mini",
		EmbeddingModel:    "text-embedding-3-small",
		ChatModel:         "gpt-4o-mini",
		UploadDir:         "uploads",
		KeyframeDir:       "keyframes",
		Store:             "local",
		RequestTimeoutSec: 60,
	}

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
	}

	if key := os.Getenv("API_KEY"); key != "" {
		config.APIKey = key
	}
	if url := os.Getenv("BASE_URL"); url != "" {
		config.BaseURL = url
	}
	if model := os.Getenv("CAPTION_MODEL"); model != "" {
		config.CaptionModel = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		config.EmbeddingModel = model
	}
	if model := os.Getenv("CHAT_MODEL"); model != "" {
		config.ChatModel = model
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		config.UploadDir = dir
	}
	if dir := os.Getenv("KEYFRAME_DIR"); dir != "" {
		config.KeyframeDir = dir
	}
	if store := os.Getenv("STORE"); store != "" {
		config.Store = strings.ToLower(strings.TrimSpace(store))
	}
	if url := os.Getenv("REMOTE_CONTEXT_URL"); url != "" {
		config.RemoteContextURL = url
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			config.RequestTimeoutSec = sec
		}
	}

	globalConfig = config
	return globalConfig, nil
}

func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, "API key is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, "base URL is required")
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		errs = append(errs, "embedding model is required")
	}
	if strings.TrimSpace(c.CaptionModel) == "" {
		errs = append(errs, "caption model is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// RequestTimeout bounds every call to an external capability.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func PrintConfigInstructions() {
	fmt.Println("\n=== Configuration ===")
	fmt.Println("Fill in config.json (or set env vars) with:")
	fmt.Println("1. api_key: API key for the caption/embedding/chat service")
	fmt.Println("2. base_url: API base URL (default: https://api.openai.com/v1)")
	fmt.Println("3. caption_model: vision model used to describe keyframes")
	fmt.Println("4. embedding_model: text embedding model")
	fmt.Println("5. chat_model: model used to answer questions")
	fmt.Println("6. store: similarity backend (local/pgvector/milvus, default: local)")
	fmt.Println("\nExample:")
	fmt.Println(`{
  "api_key": "your-api-key-here",
  "base_url": "https://api.openai.com/v1",
  "caption_model": "gpt-4o-mini",
  "embedding_model": "text-embedding-3-small",
  "chat_model": "gpt-4o-mini",
  "store": "local"
}`)
	fmt.Println("Restart the service after editing the configuration.")
	fmt.Println("=====================")
}
