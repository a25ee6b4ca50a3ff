package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/notify"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidFeeds []string
	Problems     []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidFeeds) > 0 || len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidFeeds) > 0 {
		sb.WriteString("\nInvalid feeds:\n")
		for _, f := range e.InvalidFeeds {
			sb.WriteString(fmt.Sprintf("  - %s\n", f))
		}
		sb.WriteString(fmt.Sprintf("\nValid feeds: %s\n", strings.Join(livetiming.SubscriptionFeeds, ", ")))
	}

	if len(e.Problems) > 0 {
		sb.WriteString("\nProblems:\n")
		for _, p := range e.Problems {
			sb.WriteString(fmt.Sprintf("  - %s\n", p))
		}
	}

	return sb.String()
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	validateURL(errs, "upstream.common_url", c.Upstream.CommonURL)
	if c.Upstream.PremiumToken != "" {
		validateURL(errs, "upstream.premium_url", c.Upstream.PremiumURL)
	}
	if len(c.Upstream.Feeds) == 0 {
		errs.add("upstream.feeds must list at least one feed")
	}
	for _, f := range c.Upstream.Feeds {
		if !livetiming.IsSubscriptionFeed(f) {
			errs.InvalidFeeds = append(errs.InvalidFeeds, f)
		}
	}

	r := c.Upstream.Reconnect
	if r.BaseDelay <= 0 {
		errs.add("upstream.reconnect.base_delay must be > 0")
	}
	if r.Factor < 1 {
		errs.add("upstream.reconnect.factor must be >= 1, got %g", r.Factor)
	}
	if r.MaxDelay < r.BaseDelay {
		errs.add("upstream.reconnect.max_delay must be >= base_delay")
	}
	if r.MaxAttempts < 0 {
		errs.add("upstream.reconnect.max_attempts must be >= 0")
	}

	if c.Replay.FastForwardSeconds < 0 {
		errs.add("replay.fast_forward_seconds must be >= 0")
	}

	if c.Translation.Enabled && c.Translation.APIKey == "" {
		errs.add("translation.api_key is required when translation is enabled (set GEMINI_API_KEY)")
	}
	if c.Transcription.Enabled && c.Transcription.APIKey == "" {
		errs.add("transcription.api_key is required when transcription is enabled (set ASSEMBLYAI_API_KEY)")
	}

	if c.Chat.DefaultCooldown < 0 {
		errs.add("chat.default_cooldown must be >= 0")
	}
	if c.Chat.MaxContentLength < 1 {
		errs.add("chat.max_content_length must be >= 1")
	}
	if c.Chat.MaxMessageBytes < 256 {
		errs.add("chat.max_message_bytes must be >= 256")
	}

	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic is required when notify.enabled=true")
		}
		if !notify.ValidPriority(c.Notify.Priority) {
			errs.add("notify.priority must be one of min, low, default, high, urgent, got %q", c.Notify.Priority)
		}
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, key, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.add("%s must be an http(s) URL, got %q", key, raw)
	}
}
