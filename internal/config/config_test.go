package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("expected port 4000, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.CommonURL != "https://livetiming.formula1.com/signalr" {
		t.Errorf("unexpected common url %q", cfg.Upstream.CommonURL)
	}
	if len(cfg.Upstream.Feeds) != 19 {
		t.Errorf("expected 19 default feeds, got %d", len(cfg.Upstream.Feeds))
	}
	r := cfg.Upstream.Reconnect
	if r.BaseDelay != time.Second || r.Factor != 1.5 || r.MaxDelay != 30*time.Second || r.MaxAttempts != 3 {
		t.Errorf("unexpected reconnect defaults %+v", r)
	}
	if cfg.Transcription.PollInterval != 1200*time.Millisecond {
		t.Errorf("unexpected poll interval %v", cfg.Transcription.PollInterval)
	}
	if cfg.Chat.Enabled() {
		t.Error("chat should be disabled without a JWT secret")
	}
}

func TestLoadEnvBindings(t *testing.T) {
	t.Setenv("F1TVSUBSCRIPTION_TOKEN", "f1tv-token")
	t.Setenv("REPLAY_FILE", "/data/race.jsonl")
	t.Setenv("REPLAY_FAST_FORWARD_SECONDS", "90")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("F1RELAY_SERVER_PORT", "5050")
	t.Setenv("F1RELAY_UPSTREAM_RECONNECT_MAX_ATTEMPTS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.PremiumToken != "f1tv-token" {
		t.Errorf("expected premium token from F1TVSUBSCRIPTION_TOKEN, got %q", cfg.Upstream.PremiumToken)
	}
	if cfg.Replay.File != "/data/race.jsonl" || cfg.Replay.FastForward() != 90*time.Second {
		t.Errorf("unexpected replay config %+v", cfg.Replay)
	}
	if !cfg.Chat.Enabled() {
		t.Error("expected chat enabled with JWT_SECRET")
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("expected port 5050, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.Reconnect.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Upstream.Reconnect.MaxAttempts)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
server:
  port: 8088
upstream:
  feeds: [SessionInfo, TimingData]
  reconnect:
    base_delay: 500ms
    max_delay: 5s
translation:
  enabled: true
  api_key: gm-key
  target_language: french
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Server.Port)
	}
	if len(cfg.Upstream.Feeds) != 2 {
		t.Errorf("expected 2 feeds, got %v", cfg.Upstream.Feeds)
	}
	if cfg.Upstream.Reconnect.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected base delay %v", cfg.Upstream.Reconnect.BaseDelay)
	}
	if !cfg.Translation.Enabled || cfg.Translation.TargetLanguage != "french" {
		t.Errorf("unexpected translation config %+v", cfg.Translation)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return cfg
}

func TestValidate_InvalidFeed(t *testing.T) {
	cfg := validConfig(t)
	cfg.Upstream.Feeds = []string{"TimingData", "Weather", "CarData.z"}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs.InvalidFeeds) != 1 || verrs.InvalidFeeds[0] != "Weather" {
		t.Errorf("expected Weather to be rejected, got %v", verrs.InvalidFeeds)
	}
	if !strings.Contains(verrs.Error(), "Valid feeds:") {
		t.Errorf("error should list valid feeds: %s", verrs.Error())
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Port = 0
	cfg.Upstream.Reconnect.Factor = 0.5
	cfg.Translation.Enabled = true
	cfg.Notify.Enabled = true
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs.Problems) != 5 {
		t.Errorf("expected 5 problems, got %d:\n%s", len(verrs.Problems), verrs.Error())
	}
}

func TestValidate_PremiumURLOnlyCheckedWithToken(t *testing.T) {
	cfg := validConfig(t)
	cfg.Upstream.PremiumURL = "not a url"
	if err := cfg.Validate(); err != nil {
		t.Errorf("premium url ignored without token, got %v", err)
	}

	cfg.Upstream.PremiumToken = "tok"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid premium url to fail with a token set")
	}
}

func TestNotifyOptions_SplitsTags(t *testing.T) {
	cfg := validConfig(t)
	cfg.Notify.Tags = "checkered_flag, racing_car,,"
	cfg.Notify.Topic = "f1"

	opts := cfg.NotifyOptions()
	if len(opts.Tags) != 2 || opts.Tags[0] != "checkered_flag" || opts.Tags[1] != "racing_car" {
		t.Errorf("unexpected tags %q", opts.Tags)
	}
	if opts.Topic != "f1" {
		t.Errorf("expected topic f1, got %q", opts.Topic)
	}
}
