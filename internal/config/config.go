package config

// Config is the top-level promptcanary configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Agent    AgentConfig    `yaml:"agent"`
	Training TrainingConfig `yaml:"training"`
	Canary   CanaryConfig   `yaml:"canary"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig describes the agent whose instruction prompt is being tuned.
type AgentConfig struct {
	Name string `yaml:"name"`
	// DefaultPrompt seeds the first active prompt on bootstrap.
	DefaultPrompt string `yaml:"default_prompt"`
}

type TrainingConfig struct {
	// Strategy is an extraction strategy spec, e.g. "last_turn" or
	// "last_n_turns:3".
	Strategy             string   `yaml:"strategy"`
	FetchLimit           int      `yaml:"fetch_limit"`
	RequireFeedback      bool     `yaml:"require_feedback"`
	MinFeedbackThreshold float64  `yaml:"min_feedback_threshold"`
	QualityRules         []string `yaml:"quality_rules"`
	ExtractAll           bool     `yaml:"extract_all"`

	// SystemPrompt is injected into extracted interactions by strategies
	// that support it, e.g. context_window.
	SystemPrompt string `yaml:"system_prompt"`

	Optimizer   string  `yaml:"optimizer"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type CanaryConfig struct {
	MinInteractions int `yaml:"min_interactions"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     6880,
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path: "./promptcanary.db",
		},
		Agent: AgentConfig{
			Name:          "default",
			DefaultPrompt: "You are a helpful assistant.",
		},
		Training: TrainingConfig{
			Strategy:             "last_turn",
			FetchLimit:           10000,
			RequireFeedback:      true,
			MinFeedbackThreshold: 0.0,
			Optimizer:            "llm",
			Model:                "gpt-4o-mini",
			Temperature:          0.7,
		},
		Canary: CanaryConfig{
			MinInteractions: 20,
		},
	}
}
