package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	AI       AIConfig       `mapstructure:"ai"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Debug bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type AIConfig struct {
	AutoSendThreshold   float64 `mapstructure:"auto_send_threshold"`
	RequireReviewBelow  float64 `mapstructure:"require_review_below"`
	BrandVoice          string  `mapstructure:"brand_voice"`
	MaxKnowledgeEntries int     `mapstructure:"max_knowledge_entries"`
}

// WebhookConfig covers inbound signature verification. An empty secret
// disables verification.
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type NotifyConfig struct {
	Workers  int                  `mapstructure:"workers"`
	Email    EmailNotifyConfig    `mapstructure:"email"`
	Webhook  WebhookNotifyConfig  `mapstructure:"webhook"`
	Slack    SlackNotifyConfig    `mapstructure:"slack"`
	Telegram TelegramNotifyConfig `mapstructure:"telegram"`
}

type EmailNotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type WebhookNotifyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URL     string   `mapstructure:"url"`
	Secret  string   `mapstructure:"secret"`
	Events  []string `mapstructure:"events"`
}

type SlackNotifyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URL     string   `mapstructure:"url"`
	Events  []string `mapstructure:"events"`
}

type TelegramNotifyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Token   string   `mapstructure:"token"`
	ChatID  int64    `mapstructure:"chat_id"`
	Events  []string `mapstructure:"events"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("ai.auto_send_threshold", 0.85)
	v.SetDefault("ai.require_review_below", 0.6)
	v.SetDefault("ai.brand_voice", "friendly and professional")
	v.SetDefault("ai.max_knowledge_entries", 5)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.email.smtp_port", 587)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if secret := v.GetString("WEBHOOK_SECRET"); secret != "" {
		config.Webhook.Secret = secret
	}

	if password := v.GetString("SMTP_PASSWORD"); password != "" {
		config.Notify.Email.Password = password
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Notify.Telegram.Token = token
	}

	if config.AI.RequireReviewBelow > config.AI.AutoSendThreshold {
		return nil, fmt.Errorf("ai.require_review_below (%.2f) must not exceed ai.auto_send_threshold (%.2f)",
			config.AI.RequireReviewBelow, config.AI.AutoSendThreshold)
	}

	return &config, nil
}
