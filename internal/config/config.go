package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the chat-backend service.
type Config struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Feed      FeedConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port string `envconfig:"SERVER_PORT" default:"8080"`
	// AuthToken is the static bearer credential the browser sends.
	// When empty, the API is served unauthenticated.
	AuthToken string `envconfig:"AUTH_TOKEN"`
}

// OpenAIConfig holds provider API configuration. Key and base URL are
// required; their absence is a fatal startup error.
type OpenAIConfig struct {
	APIKey       string `envconfig:"OPENAI_API_KEY" required:"true"`
	APIURL       string `envconfig:"OPENAI_API_URL" required:"true"`
	ChatModel    string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-5"`
	TTSModel     string `envconfig:"OPENAI_TTS_MODEL" default:"gpt-4o-mini-tts"`
	TTSVoice     string `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`
	STTModel     string `envconfig:"OPENAI_STT_MODEL" default:"whisper-1"`
	STTLanguage  string `envconfig:"OPENAI_STT_LANGUAGE" default:"vi"`
	SystemPrompt string `envconfig:"SYSTEM_PROMPT" default:"You are a helpful assistant. Answer clearly and concisely."`
}

// FeedConfig holds news-feed adapter configuration.
type FeedConfig struct {
	// File optionally points at a YAML file mapping feed keys to RSS
	// URLs, overriding the built-in table.
	File      string `envconfig:"FEEDS_FILE"`
	BridgeURL string `envconfig:"RSS_BRIDGE_URL" default:"https://api.rss2json.com/v1/api.json"`
	ItemLimit int    `envconfig:"FEED_ITEM_LIMIT" default:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for logical errors beyond required fields.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.OpenAI.APIURL, "http://") && !strings.HasPrefix(c.OpenAI.APIURL, "https://") {
		return fmt.Errorf("OPENAI_API_URL must be an http(s) URL, got %q", c.OpenAI.APIURL)
	}
	if c.Feed.ItemLimit <= 0 {
		c.Feed.ItemLimit = 10
	}
	return nil
}
