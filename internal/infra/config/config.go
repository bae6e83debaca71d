package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverFile     = "file"

	DeliveryAtLeastOnce = "at_least_once"
	DeliveryAtMostOnce  = "at_most_once"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	AdminTelegramID int64
	LogLevel        string
	Environment     string
	HTTPAddr        string

	StoreDriver string
	DatabaseURL string
	StateFile   string
	IndexFile   string

	AddressAPIURL        string
	ICalAPIURL           string
	HTTPTimeout          time.Duration
	FetchMaxAttempts     int
	FetchRetryDelay      time.Duration
	FetchHorizonDays     int
	RefreshMarginDays    int
	SnapshotMaxAge       time.Duration
	IndexRefreshInterval time.Duration
	MatchTolerance       int

	LeadTimes            []pickup.LeadTime
	Location             *time.Location
	CronSpecTick         string
	CronSpecIndexRebuild string
	CronSpecPrune        string
	HistoryRetentionDays int
	DeliveryMode         string
	DeliveryMaxAttempts  int
	DeliveryBackoff      time.Duration
	DeliveryTimeout      time.Duration
	TickConcurrency      int

	SkipHolidays        bool
	HolidayRegion       string
	HolidayCalendarFile string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(getString("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getString("ENVIRONMENT", "development"))
	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")

	cfg.StoreDriver = strings.ToLower(getString("STORE_DRIVER", StoreDriverFile))
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreDriverFile:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: expected %s or %s", cfg.StoreDriver, StoreDriverPostgres, StoreDriverFile)
	}
	cfg.StateFile = getString("STATE_FILE", "data/state.json")
	cfg.IndexFile = filepath.Join(filepath.Dir(cfg.StateFile), "address_index.json")

	cfg.AddressAPIURL = getString("ADDRESS_API_URL", "https://kommisdd.dresden.de/net4/public/ogcapi/collections/L134/items?limit=100000")
	cfg.ICalAPIURL = getString("ICAL_API_URL", "https://stadtplan.dresden.de/project/cardo3Apps/IDU_DDStadtplan/abfall/ical.ashx")

	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchMaxAttempts, err = getInt("FETCH_MAX_ATTEMPTS", 3, 1); err != nil {
		return nil, err
	}
	if cfg.FetchRetryDelay, err = getDuration("FETCH_RETRY_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchHorizonDays, err = getInt("FETCH_HORIZON_DAYS", 42, 1); err != nil {
		return nil, err
	}
	if cfg.RefreshMarginDays, err = getInt("REFRESH_MARGIN_DAYS", 14, 0); err != nil {
		return nil, err
	}
	if cfg.RefreshMarginDays >= cfg.FetchHorizonDays {
		return nil, fmt.Errorf("REFRESH_MARGIN_DAYS (%d) must be smaller than FETCH_HORIZON_DAYS (%d)", cfg.RefreshMarginDays, cfg.FetchHorizonDays)
	}
	if cfg.SnapshotMaxAge, err = getDuration("SNAPSHOT_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IndexRefreshInterval, err = getDuration("INDEX_REFRESH_INTERVAL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MatchTolerance, err = getInt("MATCH_TOLERANCE", 2, 0); err != nil {
		return nil, err
	}

	if cfg.LeadTimes, err = pickup.ParseLeadTimes(getString("LEAD_TIMES", "1d@18:00")); err != nil {
		return nil, fmt.Errorf("invalid LEAD_TIMES: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(getString("TIMEZONE", "Europe/Berlin")); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.CronSpecTick = getString("CRON_SPEC_TICK", "* * * * *")                  // every minute
	cfg.CronSpecIndexRebuild = getString("CRON_SPEC_INDEX_REBUILD", "0 3 * * 0") // Sunday 03:00
	cfg.CronSpecPrune = getString("CRON_SPEC_PRUNE", "30 3 * * *")               // daily 03:30
	if cfg.HistoryRetentionDays, err = getInt("HISTORY_RETENTION_DAYS", 90, 1); err != nil {
		return nil, err
	}

	cfg.DeliveryMode = strings.ToLower(getString("DELIVERY_MODE", DeliveryAtLeastOnce))
	if cfg.DeliveryMode != DeliveryAtLeastOnce && cfg.DeliveryMode != DeliveryAtMostOnce {
		return nil, fmt.Errorf("invalid DELIVERY_MODE %q", cfg.DeliveryMode)
	}
	if cfg.DeliveryMaxAttempts, err = getInt("DELIVERY_MAX_ATTEMPTS", 5, 1); err != nil {
		return nil, err
	}
	if cfg.DeliveryBackoff, err = getDuration("DELIVERY_BACKOFF", time.Minute); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getDuration("DELIVERY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TickConcurrency, err = getInt("TICK_CONCURRENCY", 4, 1); err != nil {
		return nil, err
	}

	if cfg.SkipHolidays, err = getBool("SKIP_HOLIDAYS", false); err != nil {
		return nil, err
	}
	cfg.HolidayRegion = strings.ToUpper(getString("HOLIDAY_REGION", "SN"))
	cfg.HolidayCalendarFile = os.Getenv("HOLIDAY_CALENDAR_FILE")

	return cfg, nil
}

// RequireTelegram fails when the bot token is missing.
func (c *AppConfig) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is not set")
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def, min int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < min {
		return 0, fmt.Errorf("invalid %s: must be at least %d", key, min)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
