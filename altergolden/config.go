//nolint:lll // struct tags can't be split
package altergolden

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "ALTERGOLDEN_ENV_PREFIX"
	DefaultEnvPrefix   = "AG"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "altergolden.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultRedisAddr        = "127.0.0.1:6379"
	DefaultRedisKeyPrefix   = "ag:"
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisLogLevel    = slog.LevelWarn

	DefaultCacheSweepInterval      = time.Minute
	DefaultCacheWritebackBuffer    = 1024
	DefaultCacheWritebackPerSecond = 200
	DefaultCacheLogLevel           = slog.LevelInfo

	DefaultVoteTimeout = 30 * time.Second

	DefaultSchedulerPollInterval = 3 * time.Second
	DefaultSchedulerSlack        = 15 * time.Second
	DefaultDisconnectDelay       = 30 * time.Second

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDiscordStatus     = "/help | collecting pictures"
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildVoiceStates

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPICORSAllowCredentials = true
	DefaultCORSMaxAge              = 12 * time.Hour
)

// Default per-namespace cache policies. TTLs mirror how long each kind of
// record stays useful: UI sessions for the lifetime of an interaction,
// user data for days, provider search results only for minutes.
const (
	DefaultSessionTTL         = 30 * time.Minute
	DefaultSessionMaxEntries  = 5000
	DefaultPreferencesTTL     = 30 * 24 * time.Hour
	DefaultPreferencesMax     = 10000
	DefaultBlacklistTTL       = 30 * 24 * time.Hour
	DefaultBlacklistMax       = 10000
	DefaultFavoritesTTL       = 7 * 24 * time.Hour
	DefaultFavoritesMax       = 5000
	DefaultHistoryTTL         = 7 * 24 * time.Hour
	DefaultHistoryMax         = 5000
	DefaultSearchResultTTL    = 10 * time.Minute
	DefaultSearchResultMax    = 500
	DefaultAutocompleteTTL    = 5 * time.Minute
	DefaultAutocompleteMax    = 1000
	DefaultFavoritesListLen   = 50
	DefaultHistoryListLen     = 25
	DefaultBlacklistLen       = 100
	DefaultAutocompleteLen    = 10
	DefaultVoteQuorumFraction = 0.6
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"Cache-Control",
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
	}
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is the top-level static configuration, assembled by the cmd layer
// from environment variables and defaults.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Redis configures the durable half of the cache. When disabled, every
	// namespace degrades to local-only storage.
	Redis *RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	// Cache configures the local tier: sweep cadence and the durable
	// writeback queue.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache" json:"cache"`

	// Votes configures group decision sessions (skip votes, priority votes)
	Votes *VoteConfig `yaml:"votes" mapstructure:"votes" json:"votes"`

	// Scheduler configures cross-process delayed actions (auto-disconnect)
	Scheduler *SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler" json:"scheduler"`

	// API configures the backend ops API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// RedisConfig configures the connection to the network key-value store
// backing durable cache namespaces and scheduled deadlines.
type RedisConfig struct {
	// Enabled controls whether the durable tier is used at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Address, as host:port
	Addr string `yaml:"addr" mapstructure:"addr" json:"addr" binding:"required_if=Enabled true"`

	// Password, if the server requires one
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`

	// DB is the redis logical database number
	DB int `yaml:"db" mapstructure:"db" json:"db"`

	// KeyPrefix is prepended to every key written by this bot, so several
	// bots can share one redis instance
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`

	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" json:"dial_timeout"`

	// LogLevel for store operations
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// CacheConfig configures the in-process cache tier.
type CacheConfig struct {
	// SweepInterval is how often expired local entries are removed
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval"`

	// WritebackBuffer is the capacity of the fire-and-forget durable write
	// queue. When full, writes are dropped (and counted), never blocked on.
	WritebackBuffer int `yaml:"writeback_buffer" mapstructure:"writeback_buffer" json:"writeback_buffer"`

	// WritebackPerSecond paces durable writes so a burst of local mutations
	// can't saturate the store connection
	WritebackPerSecond float64 `yaml:"writeback_per_second" mapstructure:"writeback_per_second" json:"writeback_per_second"`

	// LogLevel for cache operations
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// VoteConfig configures group vote sessions.
type VoteConfig struct {
	// Timeout is how long a vote session stays open before resolving
	// as expired
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`
}

// SchedulerConfig configures cross-process delayed actions.
type SchedulerConfig struct {
	// PollInterval is how often pending deadlines are re-checked against
	// the durable store, in addition to the local timer
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" json:"poll_interval" binding:"min=100ms"`

	// Slack is added to the durable deadline's TTL so the key outlives the
	// delay long enough for every process to observe it
	Slack time.Duration `yaml:"slack" mapstructure:"slack" json:"slack"`

	// DisconnectDelay is how long the bot waits alone in a voice channel
	// before cleaning up
	DisconnectDelay time.Duration `yaml:"disconnect_delay" mapstructure:"disconnect_delay" json:"disconnect_delay"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// CustomStatus is shown as the bot's presence when connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// APIConfig configures the backend ops API server.
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	// Token authorizes requests under /api. Empty disables those routes.
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// EnablePprof mounts net/http/pprof handlers under /debug/pprof
	EnablePprof bool `yaml:"enable_pprof" mapstructure:"enable_pprof" json:"enable_pprof"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	redisLogLevel := &slog.LevelVar{}
	cacheLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	redisLogLevel.Set(DefaultRedisLogLevel)
	cacheLogLevel.Set(DefaultCacheLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Redis: &RedisConfig{
			Enabled:     true,
			Addr:        DefaultRedisAddr,
			KeyPrefix:   DefaultRedisKeyPrefix,
			DialTimeout: DefaultRedisDialTimeout,
			LogLevel:    redisLogLevel,
		},
		Cache: &CacheConfig{
			SweepInterval:      DefaultCacheSweepInterval,
			WritebackBuffer:    DefaultCacheWritebackBuffer,
			WritebackPerSecond: DefaultCacheWritebackPerSecond,
			LogLevel:           cacheLogLevel,
		},
		Votes: &VoteConfig{
			Timeout: DefaultVoteTimeout,
		},
		Scheduler: &SchedulerConfig{
			PollInterval:    DefaultSchedulerPollInterval,
			Slack:           DefaultSchedulerSlack,
			DisconnectDelay: DefaultDisconnectDelay,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordStatus,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
