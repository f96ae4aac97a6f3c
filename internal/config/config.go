package config

import (
	"log"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`
	TitleModel       string      `env:"TITLE_MODEL" envDefault:"gemini-2.5-flash"`
	Temperature      float32     `env:"LLM_TEMPERATURE" envDefault:"0.7"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	AssistantName    string `env:"ASSISTANT_NAME" envDefault:"Onyx"`
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`
	ContextMessages  int    `env:"CONTEXT_MESSAGES" envDefault:"20"`

	// Storage
	StoreBackend       string `env:"STORE_BACKEND" envDefault:"file"`
	StorePath          string `env:"STORE_PATH" envDefault:"data"`
	StoreKey           string `env:"STORE_KEY" envDefault:"ai_chat_sessions"`
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`

	// Telegram front-end
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`
	MessageParseMode string  `env:"MESSAGE_PARSE_MODE"`

	// Scheduled jobs
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
	BackupSchedule string `env:"BACKUP_SCHEDULE" envDefault:"0 3 * * *"`
}

// DefaultSystemPrompt is used when no prompt file is configured or readable.
const DefaultSystemPrompt = `You are Onyx, a high-performance AI assistant.
Your tone is sophisticated, concise, and professional.
You provide direct, actionable answers without fluff.
Use Markdown for formatting.`

func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
