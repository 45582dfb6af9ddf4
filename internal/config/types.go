package config

type Config struct {
	Bridge    BridgeConfig    `json:"bridge"`
	Agent     AgentConfig     `json:"agent"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Admin     AdminConfig     `json:"admin"`
	Logging   LoggingConfig   `json:"logging"`
}

// BridgeConfig controls the external worker process that owns the WhatsApp
// session. The worker speaks newline-delimited JSON over stdin/stdout.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type BridgeConfig struct {
	Command     string   `json:"command,omitempty"` // default: "node"
	Args        []string `json:"args,omitempty"`    // default: ["whatsapp_bridge.js"]
	SessionPath string   `json:"session_path,omitempty"`

	// StartupTimeout bounds the wait for the worker's READY signal.
	StartupTimeout string `json:"startup_timeout,omitempty"` // default: "2m"
	// CallTimeout is the per-command response deadline.
	CallTimeout string `json:"call_timeout,omitempty"` // default: "30s"
}

// AgentConfig configures the language-model collaborator.
// The API key is read from the named environment variable, never from config.
type AgentConfig struct {
	Enabled       bool   `json:"enabled"`
	BaseURL       string `json:"base_url,omitempty"`
	APIKeyEnv     string `json:"api_key_env,omitempty"` // default: "WABOT_API_KEY"
	Model         string `json:"model,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"` // default: 8
	HistorySize   int    `json:"history_size,omitempty"`   // default: 40 turns per user
}

// SchedulerConfig controls the scheduled-delivery service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is the default IANA zone for triggers, e.g. "Africa/Cairo".
	Timezone string `json:"timezone,omitempty"`

	// PollInterval is the due-task scan period. Default: "1s".
	PollInterval string `json:"poll_interval,omitempty"`
	// MisfireGrace is the maximum lateness before a due occurrence is
	// treated as missed rather than fired. Default: "5m".
	MisfireGrace string `json:"misfire_grace,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AdminConfig lists phone numbers allowed to command the bot.
// Numbers may carry or omit a leading "+"; both forms match.
type AdminConfig struct {
	Numbers []string `json:"numbers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warn+ records to an admin chat, rate limited.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
