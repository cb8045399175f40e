package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CHATDESK_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Chat    *ChatConfig    `json:"chat"`
	Auth    *AuthConfig    `json:"auth"`
	HTTP    *HTTPConfig    `json:"http"`
	Journal *JournalConfig `json:"journal"`
	Relay   *RelayConfig   `json:"relay"`
	Log     *LogConfig     `json:"log"`
}

// ChatConfig addresses the chat server's event channel.
type ChatConfig struct {
	URL            string        `json:"url"`
	Namespace      string        `json:"namespace"`
	Path           string        `json:"path"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	PingGrace      time.Duration `json:"ping_grace"`
}

// AuthConfig holds the two identity stores. Customer-care wins when both are set.
type AuthConfig struct {
	CustomerCareToken string `json:"customer_care_token"`
	AdminToken        string `json:"admin_token"`
}

type HTTPConfig struct {
	Enabled      bool          `json:"enabled"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// JournalConfig enables the sqlite transcript when Path is non-empty.
type JournalConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// RelayConfig enables NATS fan-out of pushes when URL is non-empty.
type RelayConfig struct {
	URL     string `json:"nats_url"`
	Subject string `json:"subject"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// FUNCTIONAL DISCOVERY: Defaults target a local chat server and a loopback-only bridge
func DefaultConfig() *Config {
	return &Config{
		Chat: &ChatConfig{
			URL:            "http://localhost:1310",
			Namespace:      "/chat",
			Path:           "/socket.io/",
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 10 * time.Second,
			WriteTimeout:   5 * time.Second,
			PingGrace:      5 * time.Second,
		},
		Auth: &AuthConfig{},
		HTTP: &HTTPConfig{
			Enabled:      true,
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "127.0.0.1",
		},
		Journal: &JournalConfig{
			Timeout: 30 * time.Second,
		},
		Relay: &RelayConfig{
			Subject: "chatdesk.messages",
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}

	if c.Chat.URL == "" {
		return fmt.Errorf("chat URL cannot be empty")
	}

	u, err := url.Parse(c.Chat.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("chat URL %q is not an absolute URL", c.Chat.URL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("chat URL scheme %q is not supported", u.Scheme)
	}

	if !strings.HasPrefix(c.Chat.Namespace, "/") {
		return fmt.Errorf("chat namespace must start with /")
	}

	if c.Chat.ConnectTimeout <= 0 {
		return fmt.Errorf("chat connect timeout must be positive")
	}

	if c.Chat.RequestTimeout <= 0 {
		return fmt.Errorf("chat request timeout must be positive")
	}

	if c.Chat.WriteTimeout <= 0 {
		return fmt.Errorf("chat write timeout must be positive")
	}

	if c.Chat.PingGrace < 0 {
		return fmt.Errorf("chat ping grace cannot be negative")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}

		if c.HTTP.ReadTimeout <= 0 {
			return fmt.Errorf("HTTP read timeout must be positive")
		}

		if c.HTTP.WriteTimeout <= 0 {
			return fmt.Errorf("HTTP write timeout must be positive")
		}

		if c.HTTP.Host == "" {
			return fmt.Errorf("HTTP host cannot be empty")
		}
	}

	if c.Journal == nil {
		return fmt.Errorf("journal configuration is required")
	}

	if c.Journal.Path != "" && c.Journal.Timeout <= 0 {
		return fmt.Errorf("journal timeout must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}

	if c.Relay.URL != "" && c.Relay.Subject == "" {
		return fmt.Errorf("relay subject cannot be empty when a NATS URL is set")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}

// Address is the bridge listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Tokens usually arrive this way since they are never written to config files
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString(&config.Chat.URL, "CHAT_URL")
	setString(&config.Chat.Namespace, "CHAT_NAMESPACE")
	setString(&config.Chat.Path, "CHAT_PATH")
	setDuration(&config.Chat.ConnectTimeout, "CHAT_CONNECT_TIMEOUT")
	setDuration(&config.Chat.RequestTimeout, "CHAT_REQUEST_TIMEOUT")
	setDuration(&config.Chat.WriteTimeout, "CHAT_WRITE_TIMEOUT")
	setDuration(&config.Chat.PingGrace, "CHAT_PING_GRACE")

	setString(&config.Auth.CustomerCareToken, "CUSTOMER_CARE_TOKEN")
	setString(&config.Auth.AdminToken, "ADMIN_TOKEN")

	setBool(&config.HTTP.Enabled, "HTTP_ENABLED")
	setInt(&config.HTTP.Port, "HTTP_PORT")
	setString(&config.HTTP.Host, "HTTP_HOST")
	setDuration(&config.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&config.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")

	setString(&config.Journal.Path, "JOURNAL_PATH")
	setDuration(&config.Journal.Timeout, "JOURNAL_TIMEOUT")

	setString(&config.Relay.URL, "NATS_URL")
	setString(&config.Relay.Subject, "RELAY_SUBJECT")

	setString(&config.Log.Level, "LOG_LEVEL")
	setBool(&config.Log.Development, "LOG_DEVELOPMENT")
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback
// Unparseable values are ignored so a typo never blanks a working default
func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Chat    *ChatConfigFile    `json:"chat"`
	Auth    *AuthConfig        `json:"auth"`
	HTTP    *HTTPConfigFile    `json:"http"`
	Journal *JournalConfigFile `json:"journal"`
	Relay   *RelayConfig       `json:"relay"`
	Log     *LogConfigFile     `json:"log"`
}

type ChatConfigFile struct {
	URL            string `json:"url"`
	Namespace      string `json:"namespace"`
	Path           string `json:"path"`
	ConnectTimeout string `json:"connect_timeout"`
	RequestTimeout string `json:"request_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	PingGrace      string `json:"ping_grace"`
}

type HTTPConfigFile struct {
	Enabled      *bool  `json:"enabled"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type JournalConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type LogConfigFile struct {
	Level       string `json:"level"`
	Development *bool  `json:"development"`
}

// FUNCTIONAL DISCOVERY: File-based configuration layers over the supplied base
// so that file > environment > defaults holds
func LoadFromFile(filepath string) (*Config, error) {
	return loadFileOver(DefaultConfig(), filepath)
}

func loadFileOver(config *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := configFile.Chat; f != nil {
		overrideString(&config.Chat.URL, f.URL)
		overrideString(&config.Chat.Namespace, f.Namespace)
		overrideString(&config.Chat.Path, f.Path)
		if err := overrideDuration(&config.Chat.ConnectTimeout, f.ConnectTimeout, "chat.connect_timeout"); err != nil {
			return nil, err
		}
		if err := overrideDuration(&config.Chat.RequestTimeout, f.RequestTimeout, "chat.request_timeout"); err != nil {
			return nil, err
		}
		if err := overrideDuration(&config.Chat.WriteTimeout, f.WriteTimeout, "chat.write_timeout"); err != nil {
			return nil, err
		}
		if err := overrideDuration(&config.Chat.PingGrace, f.PingGrace, "chat.ping_grace"); err != nil {
			return nil, err
		}
	}

	if f := configFile.Auth; f != nil {
		overrideString(&config.Auth.CustomerCareToken, f.CustomerCareToken)
		overrideString(&config.Auth.AdminToken, f.AdminToken)
	}

	if f := configFile.HTTP; f != nil {
		if f.Enabled != nil {
			config.HTTP.Enabled = *f.Enabled
		}
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		overrideString(&config.HTTP.Host, f.Host)
		if err := overrideDuration(&config.HTTP.ReadTimeout, f.ReadTimeout, "http.read_timeout"); err != nil {
			return nil, err
		}
		if err := overrideDuration(&config.HTTP.WriteTimeout, f.WriteTimeout, "http.write_timeout"); err != nil {
			return nil, err
		}
	}

	if f := configFile.Journal; f != nil {
		overrideString(&config.Journal.Path, f.Path)
		if err := overrideDuration(&config.Journal.Timeout, f.Timeout, "journal.timeout"); err != nil {
			return nil, err
		}
	}

	if f := configFile.Relay; f != nil {
		overrideString(&config.Relay.URL, f.URL)
		overrideString(&config.Relay.Subject, f.Subject)
	}

	if f := configFile.Log; f != nil {
		overrideString(&config.Log.Level, f.Level)
		if f.Development != nil {
			config.Log.Development = *f.Development
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}

// LoadDotEnv loads .env style files into the process environment. Missing files
// are ignored. With no arguments it reads ./.env.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > .env > defaults
// A .env file in the working directory is optional and never overrides variables
// already present in the process environment
func LoadConfigWithPrecedence(filepath string, dotenv ...string) (*Config, error) {
	LoadDotEnv(dotenv...)

	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := loadFileOver(config, filepath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
