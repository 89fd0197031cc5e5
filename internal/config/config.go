// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Whitelist  WhitelistConfig  `mapstructure:"whitelist"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GameServer GameServerConfig `mapstructure:"game_server"`
	Economy    EconomyConfig    `mapstructure:"economy"`
	Binding    BindingConfig    `mapstructure:"binding"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Effects    EffectsConfig    `mapstructure:"effects"`
	Timezone   string           `mapstructure:"timezone"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
	Name  string `mapstructure:"name"`
	// CommandLimits caps how often one user may run a command per minute,
	// keyed by command name without the slash.
	CommandLimits map[string]int `mapstructure:"command_limits"`
	// FloodPerMinute is how many commands one user may send per minute
	// before the bot ignores them.
	FloodPerMinute int `mapstructure:"flood_per_minute"`
	// FloodRepeats is how many identical messages in a row within
	// FloodRepeatWindow are tolerated.
	FloodRepeats      int           `mapstructure:"flood_repeats"`
	FloodRepeatWindow time.Duration `mapstructure:"flood_repeat_window"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// QueryLog is the pgx trace level written to the log: trace, debug,
	// info, warn, error or none.
	QueryLog string `mapstructure:"query_log"`
}

// LogConfig controls the log level and the optional rolling log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// HTTPConfig holds the game-server webhook listener configuration.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Token           string        `mapstructure:"token"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GameServerConfig describes how the bridge talks to the game server:
// a Redis stream for commands, a Redis set for presence and the
// economy plugin's MySQL database for balances.
type GameServerConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	CommandStream string `mapstructure:"command_stream"`
	StreamMaxLen  int64  `mapstructure:"stream_max_len"`
	PresenceKey   string `mapstructure:"presence_key"`
	BalanceDSN    string `mapstructure:"balance_dsn"`
	BalanceTable  string `mapstructure:"balance_table"`
	ConfirmPhrase string `mapstructure:"confirm_phrase"`
	CreditCommand string `mapstructure:"credit_command"`
	DebitCommand  string `mapstructure:"debit_command"`
}

// EconomyConfig holds pending-currency synchronization settings.
type EconomyConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	BalanceViewLags bool          `mapstructure:"balance_view_lags"`
	TrendQueryCost  int64         `mapstructure:"trend_query_cost"`
}

// BindingConfig holds account-binding handshake settings.
type BindingConfig struct {
	Mode           string        `mapstructure:"mode"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// RewardsConfig is the static prize table used for sign-in rewards.
type RewardsConfig struct {
	Prizes           []PrizeConfig                    `mapstructure:"prizes"`
	MultiplierRanges map[string]MultiplierRangeConfig `mapstructure:"multiplier_ranges"`
}

// PrizeConfig describes one prize entry.
type PrizeConfig struct {
	Name       string `mapstructure:"name"`
	Category   string `mapstructure:"category"`
	Rarity     int    `mapstructure:"rarity"`
	BaseAmount int64  `mapstructure:"base_amount"`
	SellPrice  int64  `mapstructure:"sell_price"`
	Effect     string `mapstructure:"effect"`
}

// MultiplierRangeConfig is an inclusive lucky-number bucket.
type MultiplierRangeConfig struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// EffectsConfig tunes the luck roll applied when an item is used on a player.
type EffectsConfig struct {
	BaseSuccessRate float64 `mapstructure:"base_success_rate"`
	LuckBonus       float64 `mapstructure:"luck_bonus"`
	FailDropMin     int64   `mapstructure:"fail_drop_min"`
	FailDropMax     int64   `mapstructure:"fail_drop_max"`
}

// Binding modes.
const (
	BindingModeStrict = "strict"
	BindingModeLoose  = "loose"
)

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location returns the configured time zone used to decide calendar days.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, GAME_SERVER_REDIS_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Rewards.MultiplierRanges) == 0 {
		cfg.Rewards.MultiplierRanges = defaultMultiplierRanges()
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.name", "bridge")
	v.SetDefault("bot.command_limits", map[string]int{"sell": 5, "trend": 5})
	v.SetDefault("bot.flood_per_minute", 10)
	v.SetDefault("bot.flood_repeats", 5)
	v.SetDefault("bot.flood_repeat_window", "30s")
	v.SetDefault("timezone", "Local")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bridge")
	v.SetDefault("database.name", "bridge")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.query_log", "error")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("http.addr", ":8085")
	v.SetDefault("http.rate_per_second", 20)
	v.SetDefault("http.rate_burst", 40)
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("game_server.redis_addr", "localhost:6379")
	v.SetDefault("game_server.command_stream", "bridge:commands")
	v.SetDefault("game_server.stream_max_len", 10000)
	v.SetDefault("game_server.presence_key", "bridge:online")
	v.SetDefault("game_server.balance_table", "cmi_users")
	v.SetDefault("game_server.confirm_phrase", "确认绑定")
	v.SetDefault("game_server.credit_command", "cmi money give {account} {amount}")
	v.SetDefault("game_server.debit_command", "cmi money take {account} {amount}")

	v.SetDefault("economy.enabled", false)
	v.SetDefault("economy.sweep_interval", "10m")
	v.SetDefault("economy.balance_view_lags", true)
	v.SetDefault("economy.trend_query_cost", 50)

	v.SetDefault("binding.mode", BindingModeStrict)
	v.SetDefault("binding.confirm_timeout", "60s")
	v.SetDefault("binding.sweep_interval", "1m")

	v.SetDefault("effects.base_success_rate", 50)
	v.SetDefault("effects.luck_bonus", 0.5)
	v.SetDefault("effects.fail_drop_min", 5)
	v.SetDefault("effects.fail_drop_max", 20)
}

func defaultMultiplierRanges() map[string]MultiplierRangeConfig {
	return map[string]MultiplierRangeConfig{
		"1": {Min: 1, Max: 60},
		"2": {Min: 61, Max: 90},
		"3": {Min: 91, Max: 100},
	}
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
