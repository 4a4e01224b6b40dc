package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SyncMode selects how browser sessions live across sync cycles.
type SyncMode string

const (
	// ModeLongRunning keeps one browser session per account across cycles.
	ModeLongRunning SyncMode = "long-running"
	// ModeEphemeral creates and tears down a browser session for every cycle.
	ModeEphemeral SyncMode = "ephemeral"
)

type Config struct {
	Environment         string
	LogLevel            string
	EncryptionKeyBase64 string
	APIToken            string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string

	// Platform endpoints
	Platform           string
	LoginURL           string
	MessagesURL        string
	ProtectedURLPrefix string

	// Browser
	BrowserHeadless      bool
	BrowserBin           string
	BrowserUserDataRoot  string
	ScreenshotDir        string
	NavigationTimeout    time.Duration
	NavigationAttempts   int
	NavigationRetryDelay time.Duration
	SettleDelay          time.Duration
	BrowserIdleTimeout   time.Duration

	// Challenge mailbox
	ChallengeIMAPServer     string
	ChallengeIMAPUsername   string
	ChallengeIMAPPassword   string
	ChallengeIMAPFolder     string
	ChallengeIMAPUseTLS     bool
	ChallengeWindow         time.Duration
	ChallengePollInterval   time.Duration
	ChallengeAttempts       int
	ChallengeMaxAge         time.Duration
	ChallengeDeleteAfterUse bool

	// Sync
	SyncMode               SyncMode
	SyncInterval           time.Duration
	SessionRefreshInterval time.Duration
	InitialDaysBack        int
	MaxConversations       int
	MaxConcurrentAccounts  int
	BreakerFailures        int
	BreakerCooldown        time.Duration
	SelfNames              []string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("CHATSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		LogLevel:            getEnvOrDefault("CHATSYNC_LOG_LEVEL", "info"),
		EncryptionKeyBase64: os.Getenv("CHATSYNC_ENCRYPTION_KEY_BASE64"),
		APIToken:            os.Getenv("CHATSYNC_API_TOKEN"),
		DBHost:              getEnvOrDefault("CHATSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("CHATSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("CHATSYNC_DB_USER", "chatsync"),
		DBPassword:          os.Getenv("CHATSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("CHATSYNC_DB_NAME", "chatsync"),
		DBSSLMode:           getEnvOrDefault("CHATSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),

		Platform:           getEnvOrDefault("CHATSYNC_PLATFORM", "alibaba"),
		LoginURL:           os.Getenv("CHATSYNC_LOGIN_URL"),
		MessagesURL:        os.Getenv("CHATSYNC_MESSAGES_URL"),
		ProtectedURLPrefix: os.Getenv("CHATSYNC_PROTECTED_URL_PREFIX"),

		BrowserHeadless:      getBoolOrDefault("CHATSYNC_BROWSER_HEADLESS", true),
		BrowserBin:           os.Getenv("CHATSYNC_BROWSER_BIN"),
		BrowserUserDataRoot:  os.Getenv("CHATSYNC_BROWSER_USER_DATA_ROOT"),
		ScreenshotDir:        os.Getenv("CHATSYNC_SCREENSHOT_DIR"),
		NavigationTimeout:    getDurationOrDefault("CHATSYNC_NAVIGATION_TIMEOUT", 30*time.Second),
		NavigationAttempts:   getIntOrDefault("CHATSYNC_NAVIGATION_ATTEMPTS", 3),
		NavigationRetryDelay: getDurationOrDefault("CHATSYNC_NAVIGATION_RETRY_DELAY", 2*time.Second),
		SettleDelay:          getDurationOrDefault("CHATSYNC_SETTLE_DELAY", 3*time.Second),
		BrowserIdleTimeout:   getDurationOrDefault("CHATSYNC_BROWSER_IDLE_TIMEOUT", 30*time.Minute),

		ChallengeIMAPServer:     os.Getenv("CHATSYNC_CHALLENGE_IMAP_SERVER"),
		ChallengeIMAPUsername:   os.Getenv("CHATSYNC_CHALLENGE_IMAP_USERNAME"),
		ChallengeIMAPPassword:   os.Getenv("CHATSYNC_CHALLENGE_IMAP_PASSWORD"),
		ChallengeIMAPFolder:     getEnvOrDefault("CHATSYNC_CHALLENGE_IMAP_FOLDER", "INBOX"),
		ChallengeIMAPUseTLS:     getBoolOrDefault("CHATSYNC_CHALLENGE_IMAP_TLS", true),
		ChallengeWindow:         getDurationOrDefault("CHATSYNC_CHALLENGE_WINDOW", 2*time.Minute),
		ChallengePollInterval:   getDurationOrDefault("CHATSYNC_CHALLENGE_POLL_INTERVAL", 10*time.Second),
		ChallengeAttempts:       getIntOrDefault("CHATSYNC_CHALLENGE_ATTEMPTS", 2),
		ChallengeMaxAge:         getDurationOrDefault("CHATSYNC_CHALLENGE_MAX_AGE", 10*time.Minute),
		ChallengeDeleteAfterUse: getBoolOrDefault("CHATSYNC_CHALLENGE_DELETE_AFTER_USE", true),

		SyncMode:               SyncMode(getEnvOrDefault("CHATSYNC_SYNC_MODE", string(ModeLongRunning))),
		SyncInterval:           getDurationOrDefault("CHATSYNC_SYNC_INTERVAL", 5*time.Minute),
		SessionRefreshInterval: getDurationOrDefault("CHATSYNC_SESSION_REFRESH_INTERVAL", 300*time.Second),
		InitialDaysBack:        getIntOrDefault("CHATSYNC_INITIAL_DAYS_BACK", 7),
		MaxConversations:       getIntOrDefault("CHATSYNC_MAX_CONVERSATIONS", 10),
		MaxConcurrentAccounts:  getIntOrDefault("CHATSYNC_MAX_CONCURRENT_ACCOUNTS", 4),
		BreakerFailures:        getIntOrDefault("CHATSYNC_BREAKER_FAILURES", 5),
		BreakerCooldown:        getDurationOrDefault("CHATSYNC_BREAKER_COOLDOWN", 5*time.Minute),
		SelfNames:              splitList(os.Getenv("CHATSYNC_SELF_NAMES")),
	}

	if config.ProtectedURLPrefix == "" {
		config.ProtectedURLPrefix = config.MessagesURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("CHATSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("CHATSYNC_DB_PASSWORD is required")
	}

	if c.LoginURL == "" {
		return fmt.Errorf("CHATSYNC_LOGIN_URL is required")
	}

	if c.MessagesURL == "" {
		return fmt.Errorf("CHATSYNC_MESSAGES_URL is required")
	}

	switch c.SyncMode {
	case ModeLongRunning, ModeEphemeral:
	default:
		return fmt.Errorf("CHATSYNC_SYNC_MODE must be %q or %q, got %q", ModeLongRunning, ModeEphemeral, c.SyncMode)
	}

	if c.NavigationAttempts < 1 {
		return fmt.Errorf("CHATSYNC_NAVIGATION_ATTEMPTS must be at least 1")
	}

	if c.ChallengeAttempts < 1 {
		return fmt.Errorf("CHATSYNC_CHALLENGE_ATTEMPTS must be at least 1")
	}

	return nil
}

// HasChallengeMailbox reports whether a mailbox for verification codes is configured.
func (c *Config) HasChallengeMailbox() bool {
	return c.ChallengeIMAPServer != "" && c.ChallengeIMAPUsername != ""
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid integer for %s (%q), using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		fmt.Printf("Warning: invalid boolean for %s (%q), using %t\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getDurationOrDefault accepts Go duration strings ("90s") or plain seconds ("90").
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		fmt.Printf("Warning: invalid duration for %s (%q), using %s\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
