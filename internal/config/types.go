package config

import "time"

// Config is the whole bot configuration. It is loaded from JSON or YAML with
// unknown fields rejected, so stale keys are caught at startup instead of
// being silently ignored.
//
// All duration-ish fields are Go duration strings (e.g. "30s", "5m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	AWS      AWSConfig      `json:"aws"`
	Store    StoreConfig    `json:"store"`
	Loop     LoopConfig     `json:"loop"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives warning-and-above log lines when logging.telegram
	// is enabled. 0 disables the sink target.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// SlackConfig controls the slash-command HTTP listener. It speaks the Slack
// form-POST shape; any caller that can send that shape works.
type SlackConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"` // default "127.0.0.1:8000"
	// Token, when set, must match the slash-command verification token.
	Token string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type AWSConfig struct {
	Region string `json:"region"`
	// Static credentials are optional; when empty the SDK default chain
	// (env, shared config, IMDS) applies.
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	// ControlTag is the opt-in tag key; an instance is controllable only
	// when this tag is "true".
	ControlTag string `json:"control_tag,omitempty"`
	// APIRatePerSec bounds EC2 API calls. 0 means the default (5/s).
	APIRatePerSec int `json:"api_rate_per_sec,omitempty"`
}

type StoreConfig struct {
	Driver      string `json:"driver"` // "tags" (default), "file", "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// LoopConfig controls the periodic enforcement pass.
//
// Defaults (when fields are omitted/zero):
//   - interval: "5m" (cloud power operations take minutes, not seconds)
//   - tick_timeout: "2m"
//   - call_timeout: "20s" (per provider/store call)
//   - history_size: 50
type LoopConfig struct {
	Enabled     bool   `json:"enabled"`
	Interval    string `json:"interval,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"`
	CallTimeout string `json:"call_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// DebugConfig controls the optional pprof+metrics HTTP listener.
// Prefer binding to localhost.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default "127.0.0.1:6060"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

const (
	DefaultLoopInterval = 5 * time.Minute
	DefaultTickTimeout  = 2 * time.Minute
	DefaultCallTimeout  = 20 * time.Second
	DefaultHistorySize  = 50
	DefaultControlTag   = "powerbot:enabled"
)
