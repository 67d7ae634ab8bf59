package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port             int
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
	AdminAccount     string
	VaultAccount     string
	CurrencyDecimals int32
	KafkaBrokers     []string
	KafkaTopic       string
	JournalDir       string
	StreamBuffer     int
	RateLimit        float64
	RateBurst        int
	WebhookURL       string
	WebhookTimeout   time.Duration
	VWAPWindow       time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given) without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	logMaxSize, err := getInt("LOG_MAX_SIZE_MB", 100)
	if err != nil || logMaxSize <= 0 {
		return nil, fmt.Errorf("invalid LOG_MAX_SIZE_MB: must be a positive integer")
	}

	logMaxBackups, err := getInt("LOG_MAX_BACKUPS", 3)
	if err != nil || logMaxBackups < 0 {
		return nil, fmt.Errorf("invalid LOG_MAX_BACKUPS: must be a non-negative integer")
	}

	vaultAccount := getStr("VAULT_ACCOUNT", "vault")
	adminAccount := getStr("ADMIN_ACCOUNT", "")
	if adminAccount != "" && adminAccount == vaultAccount {
		return nil, fmt.Errorf("invalid ADMIN_ACCOUNT: must differ from VAULT_ACCOUNT")
	}

	decimals, err := getInt("CURRENCY_DECIMALS", 2)
	if err != nil || decimals < 0 || decimals > 18 {
		return nil, fmt.Errorf("invalid CURRENCY_DECIMALS: must be an integer between 0 and 18")
	}

	streamBuffer, err := getInt("STREAM_BUFFER", 1024)
	if err != nil || streamBuffer <= 0 {
		return nil, fmt.Errorf("invalid STREAM_BUFFER: must be a positive integer")
	}

	rateLimit, err := getFloat("RATE_LIMIT", 0)
	if err != nil || rateLimit < 0 || math.IsNaN(rateLimit) {
		return nil, fmt.Errorf("invalid RATE_LIMIT: must be a non-negative number")
	}

	rateBurst, err := getInt("RATE_BURST", 100)
	if err != nil || rateBurst <= 0 {
		return nil, fmt.Errorf("invalid RATE_BURST: must be a positive integer")
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	vwapWindow, err := getDuration("VWAP_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid VWAP_WINDOW: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		LogFile:          getStr("LOG_FILE", ""),
		LogMaxSizeMB:     logMaxSize,
		LogMaxBackups:    logMaxBackups,
		AdminAccount:     adminAccount,
		VaultAccount:     vaultAccount,
		CurrencyDecimals: int32(decimals),
		KafkaBrokers:     getList("KAFKA_BROKERS"),
		KafkaTopic:       getStr("KAFKA_TOPIC", "fractionex.trades"),
		JournalDir:       getStr("JOURNAL_DIR", ""),
		StreamBuffer:     streamBuffer,
		RateLimit:        rateLimit,
		RateBurst:        rateBurst,
		WebhookURL:       getStr("WEBHOOK_URL", ""),
		WebhookTimeout:   webhookTimeout,
		VWAPWindow:       vwapWindow,
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma-separated value, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
