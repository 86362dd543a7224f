//nolint:lll // struct tags can't be split
package ospbot

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "OSPBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "OSP"
	DefaultConfigFile  = "files/config.yaml"

	DefaultDatabaseType          = dbTypePostgres
	DefaultSQLitePath            = "ospbot.sqlite3"
	DefaultPostgresPort          = 5432
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelInfo
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultErrorChannelID        = "880181130408636456"
	DefaultStrictPrefix          = "."
	DefaultActivity              = "DM me to contact staff"
	DefaultBirthdayAnnounceCron  = "0 9 * * *"
	DefaultDiscordGatewayIntents = discordgo.IntentsAll

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPICORSAllowCredentials = false
	DefaultCORSMaxAge              = 12 * time.Hour

	discordMaxMessageLength = 2000
)

var (
	// DefaultPrefixes are the command prefixes accepted in addition to
	// mentioning the bot
	DefaultPrefixes = []string{"o.", "."}

	// DefaultOwnerIDs are the discord user IDs allowed to run owner
	// commands and to bypass maintenance mode
	DefaultOwnerIDs = []string{
		"326147079275675651",
		"349373972103561218",
		"438513695354650626",
	}

	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Config holds everything needed to run the bot. The top-level keys
// `botToken`, `PSQL_*` and `DelayedLoadCogs` keep the names used by
// existing deployments' config files.
type Config struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"botToken" mapstructure:"botToken" json:"botToken" log:"[redacted]" validate:"required"`

	PostgresUser     string `yaml:"PSQL_USER" mapstructure:"PSQL_USER" json:"PSQL_USER" validate:"required_if=DatabaseType postgres"`
	PostgresPassword string `yaml:"PSQL_PASSWORD" mapstructure:"PSQL_PASSWORD" json:"PSQL_PASSWORD" log:"[redacted]"`
	PostgresDB       string `yaml:"PSQL_DB" mapstructure:"PSQL_DB" json:"PSQL_DB" validate:"required_if=DatabaseType postgres"`
	PostgresHost     string `yaml:"PSQL_HOST" mapstructure:"PSQL_HOST" json:"PSQL_HOST" validate:"required_if=DatabaseType postgres"`
	PostgresPort     int    `yaml:"PSQL_PORT" mapstructure:"PSQL_PORT" json:"PSQL_PORT" validate:"min=0,max=65535"`

	// DelayedLoadCogs names cogs which are loaded on the first gateway
	// ready event rather than at startup
	DelayedLoadCogs []string `yaml:"DelayedLoadCogs" mapstructure:"DelayedLoadCogs" json:"DelayedLoadCogs"`

	// DatabaseType specifies the type of database, either 'postgres' or 'sqlite'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" validate:"oneof=postgres sqlite"`

	// SQLitePath is the database file used when DatabaseType is 'sqlite'
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path" json:"sqlite_path" validate:"required_if=DatabaseType sqlite"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold" validate:"min=0"`

	// OwnerIDs are discord user IDs treated as bot owners
	OwnerIDs []string `yaml:"owner_ids" mapstructure:"owner_ids" json:"owner_ids" validate:"dive,numeric"`

	// ErrorChannelID is the channel that error reports are posted to.
	// Leave empty to only log errors.
	ErrorChannelID string `yaml:"error_channel_id" mapstructure:"error_channel_id" json:"error_channel_id" validate:"omitempty,numeric"`

	// Prefixes are the accepted command prefixes, in addition to
	// mentioning the bot
	Prefixes []string `yaml:"prefixes" mapstructure:"prefixes" json:"prefixes" validate:"min=1,dive,required"`

	// StrictPrefix is prepended to owner messages while no-prefix mode
	// is enabled
	StrictPrefix string `yaml:"strict_prefix" mapstructure:"strict_prefix" json:"strict_prefix" validate:"required"`

	// Activity is shown as the bot's "Playing ..." presence
	Activity string `yaml:"activity" mapstructure:"activity" json:"activity"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Base discord logging level
	DiscordLogLevel *slog.LevelVar `yaml:"discord_log_level" mapstructure:"discord_log_level" json:"discord_log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupTimeout limits the time allowed to connect to the database,
	// migrate and load cogs before the gateway is opened.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" validate:"min=0"`

	// ShutdownTimeout is the time to allow for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`

	// BirthdayChannelID enables the daily birthday announcement, posted
	// to this channel
	BirthdayChannelID string `yaml:"birthday_channel_id" mapstructure:"birthday_channel_id" json:"birthday_channel_id" validate:"omitempty,numeric"`

	// BirthdayAnnounceCron is the (UTC) schedule for birthday announcements
	BirthdayAnnounceCron string `yaml:"birthday_announce_cron" mapstructure:"birthday_announce_cron" json:"birthday_announce_cron" validate:"required_with=BirthdayChannelID"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks struct constraints, returning every violation found.
func (c *Config) Validate() error {
	var errs []error
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(
					errs,
					fmt.Errorf("invalid config value for %s: %s", fe.Namespace(), fe.Tag()),
				)
			}
		} else {
			errs = append(errs, err)
		}
	}
	for _, lv := range []struct {
		name  string
		level *slog.LevelVar
	}{
		{"log_level", c.LogLevel},
		{"discord_log_level", c.DiscordLogLevel},
		{"discordgo_log_level", c.DiscordGoLogLevel},
		{"database_log_level", c.DatabaseLogLevel},
	} {
		if lv.level == nil {
			errs = append(errs, fmt.Errorf("%s must be set", lv.name))
		}
	}
	if c.API != nil && c.API.Enabled && c.API.LogLevel == nil {
		errs = append(errs, errors.New("api.log_level must be set"))
	}
	return errors.Join(errs...)
}

// fillLogLevels sets any nil log level to its default
func (c *Config) fillLogLevels() {
	for _, lv := range []struct {
		level **slog.LevelVar
		def   slog.Level
	}{
		{&c.LogLevel, DefaultLogLevel},
		{&c.DiscordLogLevel, DefaultDiscordLogLevel},
		{&c.DiscordGoLogLevel, DefaultDiscordgoLogLevel},
		{&c.DatabaseLogLevel, DefaultDatabaseLogLevel},
	} {
		if *lv.level == nil {
			v := &slog.LevelVar{}
			v.Set(lv.def)
			*lv.level = v
		}
	}
	if c.API != nil && c.API.LogLevel == nil {
		c.API.LogLevel = &slog.LevelVar{}
		c.API.LogLevel.Set(DefaultAPILogLevel)
	}
}

// PostgresDSN builds a connection URL from the PSQL_* settings
func (c Config) PostgresDSN() string {
	port := c.PostgresPort
	if port == 0 {
		port = DefaultPostgresPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, strconv.Itoa(port)),
		Path:   "/" + c.PostgresDB,
	}
	switch {
	case c.PostgresUser != "" && c.PostgresPassword != "":
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	case c.PostgresUser != "":
		u.User = url.User(c.PostgresUser)
	}
	return u.String()
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Development serves pprof routes under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" validate:"required_if=Enabled true"`

	// Bearer token required on /api routes
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" validate:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" validate:"min=0"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" validate:"min=0"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" validate:"min=0"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" validate:"min=0"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert" validate:"required_with=Key"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" validate:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
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
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		PostgresPort:          DefaultPostgresPort,
		DelayedLoadCogs:       []string{},
		DatabaseType:          DefaultDatabaseType,
		SQLitePath:            DefaultSQLitePath,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		OwnerIDs:              append([]string(nil), DefaultOwnerIDs...),
		ErrorChannelID:        DefaultErrorChannelID,
		Prefixes:              append([]string(nil), DefaultPrefixes...),
		StrictPrefix:          DefaultStrictPrefix,
		Activity:              DefaultActivity,
		GatewayIntents:        DefaultDiscordGatewayIntents,
		LogLevel:              mainLogLevel,
		DiscordLogLevel:       discordLogLevel,
		DiscordGoLogLevel:     discordgoLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		BirthdayAnnounceCron:  DefaultBirthdayAnnounceCron,
		API: &APIConfig{
			Listen: DefaultAPIListen,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
