package config

import "time"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Replay        ReplayConfig        `mapstructure:"replay"`
	Translation   TranslationConfig   `mapstructure:"translation"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type UpstreamConfig struct {
	CommonURL        string          `mapstructure:"common_url"`
	PremiumURL       string          `mapstructure:"premium_url"`
	PremiumToken     string          `mapstructure:"premium_token"`
	Feeds            []string        `mapstructure:"feeds"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration   `mapstructure:"idle_timeout"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type ReplayConfig struct {
	File               string `mapstructure:"file"`
	FastForwardSeconds int    `mapstructure:"fast_forward_seconds"`
}

// FastForward returns the replay horizon as a duration.
func (r ReplayConfig) FastForward() time.Duration {
	return time.Duration(r.FastForwardSeconds) * time.Second
}

type TranslationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	TargetLanguage string        `mapstructure:"target_language"`
	Interval       time.Duration `mapstructure:"interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
}

type TranscriptionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIKey       string        `mapstructure:"api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	AudioBaseURL string        `mapstructure:"audio_base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Interval     time.Duration `mapstructure:"interval"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type ChatConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	RedisURL         string        `mapstructure:"redis_url"`
	DefaultCooldown  time.Duration `mapstructure:"default_cooldown"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	MaxMessageBytes  int           `mapstructure:"max_message_bytes"`
}

// Enabled reports whether chat:post can be accepted at all.
func (c ChatConfig) Enabled() bool {
	return c.JWTSecret != ""
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
	Token    string `mapstructure:"token"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}
