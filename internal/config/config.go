package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"flight-deal-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Routes    RoutesConfig    `mapstructure:"routes"`
	Cooldown  CooldownConfig  `mapstructure:"cooldown"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Sending   SendingConfig   `mapstructure:"sending"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// RoutesConfig declares which routes are watched and their price ceilings.
type RoutesConfig struct {
	Origin           string         `mapstructure:"origin"`
	DailyDests       []string       `mapstructure:"daily_dests"`
	DateWindowDays   int            `mapstructure:"date_window_days"`
	WeekdaysOnly     bool           `mapstructure:"weekdays_only"`
	CeilingsOW       map[string]int `mapstructure:"ceilings_ow"`
	DefaultCeilingOW int            `mapstructure:"default_ceiling_ow"`
	CeilingsRT       map[string]int `mapstructure:"ceilings_rt"`
	DefaultCeilingRT int            `mapstructure:"default_ceiling_rt"`
	MarqueeRT        []string       `mapstructure:"marquee_rt"`
}

// CeilingOW resolves the one-way ceiling for a destination.
func (r RoutesConfig) CeilingOW(dest string) int {
	if c, ok := r.CeilingsOW[strings.ToUpper(dest)]; ok {
		return c
	}
	return r.DefaultCeilingOW
}

// CeilingRT resolves the round-trip ceiling for a destination.
func (r RoutesConfig) CeilingRT(dest string) int {
	if c, ok := r.CeilingsRT[strings.ToUpper(dest)]; ok {
		return c
	}
	return r.DefaultCeilingRT
}

// IsMarqueeRT reports whether a destination belongs to the marquee
// round-trip subset eligible for the historical priority bonus.
func (r RoutesConfig) IsMarqueeRT(dest string) bool {
	dest = strings.ToUpper(dest)
	for _, d := range r.MarqueeRT {
		if strings.ToUpper(d) == dest {
			return true
		}
	}
	return false
}

// CooldownConfig sets the re-check back-off per outcome.
type CooldownConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	GoodDays    int  `mapstructure:"good_days"`
	BadHours    int  `mapstructure:"bad_hours"`
	NoDataHours int  `mapstructure:"nodata_hours"`
}

// GoodDuration returns the cooldown after a GOOD outcome.
func (c CooldownConfig) GoodDuration() time.Duration {
	return time.Duration(c.GoodDays) * 24 * time.Hour
}

// BadDuration returns the cooldown after a BAD outcome.
func (c CooldownConfig) BadDuration() time.Duration {
	return time.Duration(c.BadHours) * time.Hour
}

// NoDataDuration returns the cooldown after a NO_DATA outcome.
func (c CooldownConfig) NoDataDuration() time.Duration {
	return time.Duration(c.NoDataHours) * time.Hour
}

// QueueConfig governs the dispatch queue.
type QueueConfig struct {
	Path                string        `mapstructure:"path"`
	Capacity            int           `mapstructure:"capacity"`
	DropPolicy          string        `mapstructure:"drop_policy"`
	ModerationEnabled   bool          `mapstructure:"moderation_enabled"`
	AutoApprovePriority int           `mapstructure:"auto_approve_priority"`
	SentRetention       time.Duration `mapstructure:"sent_retention"`
}

// SendingConfig paces outbound deliveries.
type SendingConfig struct {
	Timezone          string            `mapstructure:"timezone"`
	Windows           string            `mapstructure:"windows"`
	MaxPerHourGroup   int               `mapstructure:"max_per_hour_per_group"`
	MinSpacingSeconds int               `mapstructure:"min_spacing_seconds"`
	MaxPerCycle       int               `mapstructure:"max_per_cycle"`
	Channel           string            `mapstructure:"channel"`
	DefaultGroup      string            `mapstructure:"default_group"`
	GroupsByDest      map[string]string `mapstructure:"groups_by_dest"`
}

// GroupForDest routes a destination to its recipient group.
func (s SendingConfig) GroupForDest(dest string) string {
	if g, ok := s.GroupsByDest[strings.ToUpper(dest)]; ok {
		return g
	}
	return s.DefaultGroup
}

// MinSpacing returns the per-group spacing as a duration.
func (s SendingConfig) MinSpacing() time.Duration {
	return time.Duration(s.MinSpacingSeconds) * time.Second
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	ConfidenceThreshold int           `mapstructure:"confidence_threshold"`
	AlertKind           string        `mapstructure:"alert_kind"`
	DedupeTTL           time.Duration `mapstructure:"dedupe_ttl"`
}

// FetcherConfig selects the offer source: "file" reads per-route JSON batch
// files from Dir, "http" pulls from a scraper gateway.
type FetcherConfig struct {
	Kind      string        `mapstructure:"kind"`
	Dir       string        `mapstructure:"dir"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DeliveryConfig selects and parameterises the outbound channel.
type DeliveryConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters. ChatIDs maps
// recipient group names to chat ids.
type TelegramConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	BotToken string            `mapstructure:"bot_token"`
	ChatIDs  map[string]string `mapstructure:"chat_ids"`
	APIBase  string            `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dealwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64656177))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.cycle_timeout", "4m")

	v.SetDefault("routes.origin", "REC")
	v.SetDefault("routes.daily_dests", []string{"GRU", "GIG", "BSB", "SSA", "FOR", "CNF", "VCP", "NAT"})
	v.SetDefault("routes.date_window_days", 7)
	v.SetDefault("routes.weekdays_only", false)
	v.SetDefault("routes.ceilings_ow", map[string]int{
		"GRU": 650, "GIG": 650, "BSB": 700, "SSA": 500,
		"FOR": 550, "CNF": 700, "VCP": 650, "NAT": 450,
	})
	v.SetDefault("routes.default_ceiling_ow", 800)
	v.SetDefault("routes.ceilings_rt", map[string]int{
		"GRU": 1300, "GIG": 1300, "BSB": 1100, "SSA": 900,
		"MIA": 3500, "MCO": 3400, "JFK": 3800,
	})
	v.SetDefault("routes.default_ceiling_rt", 1500)
	v.SetDefault("routes.marquee_rt", []string{"MIA", "MCO", "JFK"})

	v.SetDefault("cooldown.enabled", true)
	v.SetDefault("cooldown.good_days", 1)
	v.SetDefault("cooldown.bad_hours", 6)
	v.SetDefault("cooldown.nodata_hours", 12)

	v.SetDefault("queue.path", "queue_messages.json")
	v.SetDefault("queue.capacity", 50)
	v.SetDefault("queue.drop_policy", "drop_lowest")
	v.SetDefault("queue.moderation_enabled", false)
	v.SetDefault("queue.auto_approve_priority", 600)
	v.SetDefault("queue.sent_retention", "168h")

	v.SetDefault("sending.timezone", "America/Recife")
	v.SetDefault("sending.windows", "08:00-09:00,11:00-12:00,14:00-15:00,17:00-18:00,20:00-21:00")
	v.SetDefault("sending.max_per_hour_per_group", 4)
	v.SetDefault("sending.min_spacing_seconds", 180)
	v.SetDefault("sending.max_per_cycle", 20)
	v.SetDefault("sending.channel", "TELEGRAM")
	v.SetDefault("sending.default_group", "deals-general")

	v.SetDefault("engine.confidence_threshold", 60)
	v.SetDefault("engine.alert_kind", "ALERT")
	v.SetDefault("engine.dedupe_ttl", "24h")

	v.SetDefault("fetcher.kind", "file")
	v.SetDefault("fetcher.dir", "offer_batches")
	v.SetDefault("fetcher.timeout", "30s")

	v.SetDefault("delivery.telegram.enabled", false)
	v.SetDefault("delivery.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Routes.Origin == "" {
		return fmt.Errorf("routes.origin is required")
	}
	if c.Routes.DateWindowDays <= 0 {
		return fmt.Errorf("routes.date_window_days must be greater than zero")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be greater than zero")
	}
	if c.Queue.DropPolicy != "drop_lowest" && c.Queue.DropPolicy != "drop_new" {
		return fmt.Errorf("queue.drop_policy must be drop_lowest or drop_new")
	}
	if c.Sending.MaxPerHourGroup <= 0 {
		return fmt.Errorf("sending.max_per_hour_per_group must be greater than zero")
	}
	if c.Sending.MinSpacingSeconds < 0 {
		return fmt.Errorf("sending.min_spacing_seconds cannot be negative")
	}
	if _, err := time.LoadLocation(c.Sending.Timezone); err != nil {
		return fmt.Errorf("sending.timezone invalid: %w", err)
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 100 {
		return fmt.Errorf("engine.confidence_threshold must be within [0,100]")
	}
	switch c.Fetcher.Kind {
	case "", "file", "http":
	default:
		return fmt.Errorf("fetcher.kind must be file or http")
	}
	if c.Fetcher.Kind == "http" && c.Fetcher.BaseURL == "" {
		return fmt.Errorf("fetcher.base_url is required when fetcher.kind is http")
	}
	if c.Delivery.Telegram.Enabled {
		if c.Delivery.Telegram.BotToken == "" {
			return fmt.Errorf("delivery.telegram.bot_token is required when telegram is enabled")
		}
		if len(c.Delivery.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("delivery.telegram.chat_ids is required when telegram is enabled")
		}
	}
	return nil
}
