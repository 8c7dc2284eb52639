package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

// MaxContextWindow is the hard upper bound on history rows fed to the model.
const MaxContextWindow = 50

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	WebhookURL       string `env:"WEBHOOK_URL"`

	// HTTP server
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"deepseek/deepseek-r1-distill-llama-70b:free"`
	VisionModel      string      `env:"VISION_MODEL" envDefault:"meta-llama/llama-3.2-11b-vision-instruct:free"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Conversation
	ContextWindow    int    `env:"CONTEXT_WINDOW" envDefault:"50"`
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"Markdown"`

	// Feeds as command=url pairs; Validate turns them into the Feeds map
	FeedList     []string      `env:"FEEDS" envSeparator:"," envDefault:"verge=https://www.theverge.com/rss/index.xml"`
	FeedItems    int           `env:"FEED_ITEMS" envDefault:"10"`
	FeedCacheTTL time.Duration `env:"FEED_CACHE_TTL" envDefault:"10m"`
	Feeds        map[string]string

	// Delivery
	SendRetries       int           `env:"SEND_RETRIES" envDefault:"5"`
	SendRetryDelay    time.Duration `env:"SEND_RETRY_DELAY" envDefault:"1s"`
	SendRatePerSecond float64       `env:"SEND_RATE_PER_SECOND" envDefault:"25"`

	// Token price proxy
	TokenPriceAPIURL       string `env:"TOKEN_PRICE_API_URL" envDefault:"https://pro-api.coinmarketcap.com/v2/cryptocurrency/quotes/latest"`
	TokenPriceAPIKey       string `env:"TOKEN_PRICE_API_KEY"`
	TokenPriceAPIKeyHeader string `env:"TOKEN_PRICE_API_KEY_HEADER" envDefault:"X-CMC_PRO_API_KEY"`

	// Lock sweeper
	LockSweepSchedule string        `env:"LOCK_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	LockStaleAfter    time.Duration `env:"LOCK_STALE_AFTER" envDefault:"15m"`
}

// LoadDotEnv loads .env into the process environment. A missing file is not an error
// for the caller; the returned error is only meant to be logged.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseURL reads only DATABASE_URL, for commands that need the database but not
// the bot token.
func DatabaseURL() (string, error) {
	var c struct {
		DatabaseURL string `env:"DATABASE_URL"`
	}
	if err := env.Parse(&c); err != nil {
		return "", fmt.Errorf("failed to parse config: %w", err)
	}
	if c.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	return c.DatabaseURL, nil
}

func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			return fmt.Errorf("yandex provider requires YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}
	if c.SendRetries < 1 {
		return fmt.Errorf("SEND_RETRIES must be at least 1, got %d", c.SendRetries)
	}
	feeds, err := ParseFeeds(c.FeedList)
	if err != nil {
		return err
	}
	c.Feeds = feeds
	c.ContextWindow = ClampWindow(c.ContextWindow)
	return nil
}

// ParseFeeds turns "command=url" entries into a map keyed by the lowercased command
// without its leading slash.
func ParseFeeds(entries []string) (map[string]string, error) {
	feeds := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		cmd, url, ok := strings.Cut(e, "=")
		cmd = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cmd), "/"))
		url = strings.TrimSpace(url)
		if !ok || cmd == "" || url == "" {
			return nil, fmt.Errorf("invalid FEEDS entry %q, want command=url", e)
		}
		feeds[cmd] = url
	}
	return feeds, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ClampWindow keeps a configured context window inside 1..MaxContextWindow.
func ClampWindow(n int) int {
	if n <= 0 || n > MaxContextWindow {
		return MaxContextWindow
	}
	return n
}
