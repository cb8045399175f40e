package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// unsetEnv removes a variable for the duration of the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides working settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Chat.URL != "http://localhost:1310" {
		t.Errorf("Default chat URL should be http://localhost:1310, got %s", config.Chat.URL)
	}
	if config.Chat.Namespace != "/chat" {
		t.Errorf("Default namespace should be /chat, got %s", config.Chat.Namespace)
	}
	if config.Chat.RequestTimeout != 10*time.Second {
		t.Errorf("Default request timeout should be 10s, got %v", config.Chat.RequestTimeout)
	}
	if config.Journal.Path != "" {
		t.Error("Journal should be disabled by default")
	}
	if config.Relay.URL != "" {
		t.Error("Relay should be disabled by default")
	}
	if config.HTTP.Address() != "127.0.0.1:8080" {
		t.Errorf("unexpected default address %s", config.HTTP.Address())
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing chat", func(c *Config) { c.Chat = nil }, "chat configuration is required"},
		{"empty url", func(c *Config) { c.Chat.URL = "" }, "chat URL cannot be empty"},
		{"relative url", func(c *Config) { c.Chat.URL = "/only/path" }, "not an absolute URL"},
		{"bad scheme", func(c *Config) { c.Chat.URL = "ftp://chat.example" }, "scheme"},
		{"namespace", func(c *Config) { c.Chat.Namespace = "chat" }, "namespace must start with /"},
		{"request timeout", func(c *Config) { c.Chat.RequestTimeout = 0 }, "request timeout must be positive"},
		{"connect timeout", func(c *Config) { c.Chat.ConnectTimeout = -1 }, "connect timeout must be positive"},
		{"ping grace", func(c *Config) { c.Chat.PingGrace = -time.Second }, "ping grace"},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP port must be between 1 and 65535"},
		{"http host", func(c *Config) { c.HTTP.Host = "" }, "HTTP host cannot be empty"},
		{"journal timeout", func(c *Config) { c.Journal.Path = "x.db"; c.Journal.Timeout = 0 }, "journal timeout"},
		{"relay subject", func(c *Config) { c.Relay.URL = "nats://localhost:4222"; c.Relay.Subject = "" }, "relay subject"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfig_DisabledBridgeSkipsHTTPValidation(t *testing.T) {
	config := DefaultConfig()
	config.HTTP.Enabled = false
	config.HTTP.Port = 0
	if err := config.Validate(); err != nil {
		t.Errorf("disabled bridge should not validate port: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variables override defaults
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATDESK_CHAT_URL", "https://chat.example.com")
	t.Setenv("CHATDESK_CHAT_REQUEST_TIMEOUT", "3s")
	t.Setenv("CHATDESK_CUSTOMER_CARE_TOKEN", "cc-token")
	t.Setenv("CHATDESK_HTTP_PORT", "9090")
	t.Setenv("CHATDESK_HTTP_ENABLED", "false")
	t.Setenv("CHATDESK_JOURNAL_PATH", "/tmp/chatdesk.db")
	t.Setenv("CHATDESK_NATS_URL", "nats://localhost:4222")
	t.Setenv("CHATDESK_LOG_DEVELOPMENT", "true")

	config := LoadFromEnv()

	if config.Chat.URL != "https://chat.example.com" {
		t.Errorf("Expected chat URL from env, got %s", config.Chat.URL)
	}
	if config.Chat.RequestTimeout != 3*time.Second {
		t.Errorf("Expected 3s request timeout, got %v", config.Chat.RequestTimeout)
	}
	if config.Auth.CustomerCareToken != "cc-token" {
		t.Errorf("Expected customer-care token from env, got %q", config.Auth.CustomerCareToken)
	}
	if config.HTTP.Port != 9090 || config.HTTP.Enabled {
		t.Errorf("Expected disabled bridge on 9090, got %+v", config.HTTP)
	}
	if config.Journal.Path != "/tmp/chatdesk.db" {
		t.Errorf("Expected journal path from env, got %s", config.Journal.Path)
	}
	if config.Relay.URL != "nats://localhost:4222" {
		t.Errorf("Expected relay URL from env, got %s", config.Relay.URL)
	}
	if !config.Log.Development {
		t.Error("Expected development logging from env")
	}
}

func TestConfig_LoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("CHATDESK_HTTP_PORT", "not-a-number")
	t.Setenv("CHATDESK_CHAT_WRITE_TIMEOUT", "soon")
	t.Setenv("CHATDESK_HTTP_ENABLED", "maybe")

	config := LoadFromEnv()
	defaults := DefaultConfig()

	if config.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("invalid port should keep default, got %d", config.HTTP.Port)
	}
	if config.Chat.WriteTimeout != defaults.Chat.WriteTimeout {
		t.Errorf("invalid duration should keep default, got %v", config.Chat.WriteTimeout)
	}
	if !config.HTTP.Enabled {
		t.Error("invalid bool should keep default")
	}
}

// FUNCTIONAL VALIDATION TEST: File configuration parses duration strings
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"chat": {"url": "wss://chat.example.com", "namespace": "/support", "request_timeout": "2s", "ping_grace": "1s"},
		"auth": {"admin_token": "admin"},
		"http": {"port": 8181, "host": "0.0.0.0", "enabled": false},
		"journal": {"path": "transcripts.db", "timeout": "5s"},
		"relay": {"nats_url": "nats://n:4222", "subject": "care.pushes"},
		"log": {"level": "debug", "development": true}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Chat.URL != "wss://chat.example.com" || config.Chat.Namespace != "/support" {
		t.Errorf("unexpected chat section %+v", config.Chat)
	}
	if config.Chat.RequestTimeout != 2*time.Second || config.Chat.PingGrace != time.Second {
		t.Errorf("durations not parsed: %+v", config.Chat)
	}
	if config.Chat.ConnectTimeout != 10*time.Second {
		t.Error("unset durations should keep defaults")
	}
	if config.Auth.AdminToken != "admin" {
		t.Error("admin token not loaded")
	}
	if config.HTTP.Enabled || config.HTTP.Port != 8181 {
		t.Errorf("unexpected http section %+v", config.HTTP)
	}
	if config.Journal.Timeout != 5*time.Second {
		t.Errorf("journal timeout not parsed: %v", config.Journal.Timeout)
	}
	if config.Relay.Subject != "care.pushes" {
		t.Errorf("relay subject not loaded: %s", config.Relay.Subject)
	}
	if config.Log.Level != "debug" || !config.Log.Development {
		t.Errorf("unexpected log section %+v", config.Log)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}

	bad := writeFile(t, "bad.json", `{"chat": `)
	if _, err := LoadFromFile(bad); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}

	duration := writeFile(t, "duration.json", `{"chat": {"request_timeout": "ten seconds"}}`)
	if _, err := LoadFromFile(duration); err == nil || !strings.Contains(err.Error(), "chat.request_timeout") {
		t.Errorf("expected duration error naming the field, got %v", err)
	}

	invalid := writeFile(t, "invalid.json", `{"chat": {"namespace": "chat"}}`)
	if _, err := LoadFromFile(invalid); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence is file > environment > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CHATDESK_CHAT_URL", "http://env.example.com")
	t.Setenv("CHATDESK_HTTP_PORT", "9000")

	path := writeFile(t, "config.json", `{"http": {"port": 9100}}`)

	config, err := LoadConfigWithPrecedence(path, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 9100 {
		t.Errorf("file should win over env, got port %d", config.HTTP.Port)
	}
	if config.Chat.URL != "http://env.example.com" {
		t.Errorf("env should win over defaults, got %s", config.Chat.URL)
	}

	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("an explicitly named config file that is missing should fail")
	}
}

func TestConfig_DotEnv(t *testing.T) {
	unsetEnv(t, "CHATDESK_ADMIN_TOKEN")
	t.Setenv("CHATDESK_LOG_LEVEL", "warn")

	envFile := writeFile(t, ".env", "CHATDESK_ADMIN_TOKEN=from-dotenv\nCHATDESK_LOG_LEVEL=debug\n")

	config, err := LoadConfigWithPrecedence("", envFile)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.Auth.AdminToken != "from-dotenv" {
		t.Errorf("expected token from .env, got %q", config.Auth.AdminToken)
	}
	if config.Log.Level != "warn" {
		t.Errorf(".env must not override the process environment, got %s", config.Log.Level)
	}
	os.Unsetenv("CHATDESK_ADMIN_TOKEN")
}
