package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/notify"
)

const envPrefix = "F1RELAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("upstream.common_url", "https://livetiming.formula1.com/signalr")
	v.SetDefault("upstream.premium_url", "https://livetiming.formula1.com/signalrcore")
	v.SetDefault("upstream.feeds", livetiming.SubscriptionFeeds)
	v.SetDefault("upstream.handshake_timeout", 15*time.Second)
	v.SetDefault("upstream.idle_timeout", 60*time.Second)
	v.SetDefault("upstream.reconnect.base_delay", time.Second)
	v.SetDefault("upstream.reconnect.factor", 1.5)
	v.SetDefault("upstream.reconnect.max_delay", 30*time.Second)
	v.SetDefault("upstream.reconnect.max_attempts", 3)

	v.SetDefault("replay.fast_forward_seconds", 0)

	v.SetDefault("translation.enabled", false)
	v.SetDefault("translation.endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("translation.model", "gemini-2.5-flash")
	v.SetDefault("translation.target_language", "spanish")
	v.SetDefault("translation.interval", time.Second)
	v.SetDefault("translation.timeout", 20*time.Second)
	v.SetDefault("translation.queue_size", 64)

	v.SetDefault("transcription.enabled", false)
	v.SetDefault("transcription.endpoint", "https://api.assemblyai.com")
	v.SetDefault("transcription.audio_base_url", "https://livetiming.formula1.com/static/")
	v.SetDefault("transcription.poll_interval", 1200*time.Millisecond)
	v.SetDefault("transcription.timeout", 2*time.Minute)
	v.SetDefault("transcription.interval", time.Second)
	v.SetDefault("transcription.queue_size", 32)

	v.SetDefault("chat.default_cooldown", 10*time.Second)
	v.SetDefault("chat.max_content_length", 280)
	v.SetDefault("chat.max_message_bytes", 8192)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", notify.DefaultServer)
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "checkered_flag")

	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Names used by existing deployments
	_ = v.BindEnv("upstream.premium_token", envPrefix+"_UPSTREAM_PREMIUM_TOKEN", "F1TVSUBSCRIPTION_TOKEN")
	_ = v.BindEnv("replay.file", envPrefix+"_REPLAY_FILE", "REPLAY_FILE")
	_ = v.BindEnv("replay.fast_forward_seconds", envPrefix+"_REPLAY_FAST_FORWARD_SECONDS", "REPLAY_FAST_FORWARD_SECONDS")
	_ = v.BindEnv("chat.jwt_secret", envPrefix+"_CHAT_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("chat.redis_url", envPrefix+"_CHAT_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("translation.api_key", envPrefix+"_TRANSLATION_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("transcription.api_key", envPrefix+"_TRANSCRIPTION_API_KEY", "ASSEMBLYAI_API_KEY")
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// NotifyOptions converts the notify section for the ntfy publisher.
func (c *Config) NotifyOptions() notify.Options {
	var tags []string
	for _, tag := range strings.Split(c.Notify.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return notify.Options{
		Server:   c.Notify.Server,
		Topic:    c.Notify.Topic,
		Priority: c.Notify.Priority,
		Tags:     tags,
		Token:    c.Notify.Token,
	}
}
