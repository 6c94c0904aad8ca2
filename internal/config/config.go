package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Journal drivers.
const (
	JournalNone     = "none"
	JournalMemory   = "memory"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// Config holds daemon configuration values.
type Config struct {
	Env      string `validate:"required,oneof=dev prod"`
	JobsFile string `validate:"required"`
	Timezone string
	HTTP     struct {
		Addr      string  `validate:"required"`
		RateLimit float64 `validate:"gte=0"`
		RateBurst int     `validate:"gte=1"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Journal  Journal
	Telegram struct {
		Token  string
		ChatID int64
	}
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Journal selects the run journal backend.
type Journal struct {
	Driver      string `validate:"required,oneof=none memory sqlite postgres"`
	SQLitePath  string
	PostgresDSN string
}

var validate = validator.New()

// Load reads configuration from environment variables. Variables already set in
// the environment win over those in envFile; a missing envFile is ignored.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	var c Config
	var errs []error
	c.Env = getenv("ENV", "prod")
	c.JobsFile = getenv("JOBS_FILE", "jobs.yaml")
	c.Timezone = os.Getenv("TIMEZONE")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.RateLimit = parse(&errs, "API_RATE_LIMIT", 10.0, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
	c.HTTP.RateBurst = parse(&errs, "API_RATE_BURST", 20, strconv.Atoi)
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/krontab.log")
	c.Journal.Driver = strings.ToLower(getenv("JOURNAL_DRIVER", JournalMemory))
	c.Journal.SQLitePath = os.Getenv("JOURNAL_SQLITE_PATH")
	c.Journal.PostgresDSN = os.Getenv("JOURNAL_PG_DSN")
	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ChatID = parse(&errs, "TELEGRAM_CHAT_ID", int64(0), func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	c.ShutdownTimeout = parse(&errs, "SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return Config{}, fmt.Errorf("TIMEZONE: %w", err)
		}
	}
	if c.Journal.Driver == JournalSQLite && c.Journal.SQLitePath == "" {
		return Config{}, errors.New("JOURNAL_SQLITE_PATH required when JOURNAL_DRIVER=sqlite")
	}
	if c.Journal.Driver == JournalPostgres && c.Journal.PostgresDSN == "" {
		return Config{}, errors.New("JOURNAL_PG_DSN required when JOURNAL_DRIVER=postgres")
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == 0) {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return c, nil
}

// Location resolves Timezone, defaulting to the local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parse[T any](errs *[]error, k string, def T, conv func(string) (T, error)) T {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	out, err := conv(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return out
}
