package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/ospbot/ospbot/ospbot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = ospbot.DefaultConfig()
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:          "ospbot [flags]",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := decodeConfig(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names ("DEBUG", "warn", "INFO+2")
// into *slog.LevelVar fields. Fields already holding a LevelVar are
// decoded into directly, so the target type may be the struct itself.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		typ := t
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		if typ != levelVarType {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// decodeConfig unmarshals the settings held by v over a fresh
// DefaultConfig
func decodeConfig(v *viper.Viper) (*ospbot.Config, error) {
	c := ospbot.DefaultConfig()
	err := v.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				LevelToStringHookFunc(),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return c, nil
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setDefaults registers a default for every key, which is also what
// allows AutomaticEnv to find environment overrides on Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("botToken", "")

	v.SetDefault("PSQL_USER", "")
	v.SetDefault("PSQL_PASSWORD", "")
	v.SetDefault("PSQL_DB", "")
	v.SetDefault("PSQL_HOST", "")
	v.SetDefault("PSQL_PORT", ospbot.DefaultPostgresPort)

	v.SetDefault("DelayedLoadCogs", []string{})

	v.SetDefault("database_type", ospbot.DefaultDatabaseType)
	v.SetDefault("sqlite_path", ospbot.DefaultSQLitePath)
	v.SetDefault("database_log_level", ospbot.DefaultDatabaseLogLevel.String())
	v.SetDefault("database_slow_threshold", ospbot.DefaultDatabaseSlowThreshold)

	v.SetDefault("owner_ids", ospbot.DefaultOwnerIDs)
	v.SetDefault("error_channel_id", ospbot.DefaultErrorChannelID)
	v.SetDefault("prefixes", ospbot.DefaultPrefixes)
	v.SetDefault("strict_prefix", ospbot.DefaultStrictPrefix)
	v.SetDefault("activity", ospbot.DefaultActivity)
	v.SetDefault("gateway_intents", int(ospbot.DefaultDiscordGatewayIntents))

	v.SetDefault("log_level", ospbot.DefaultLogLevel.String())
	v.SetDefault("discord_log_level", ospbot.DefaultDiscordLogLevel.String())
	v.SetDefault("discordgo_log_level", ospbot.DefaultDiscordgoLogLevel.String())

	v.SetDefault("startup_timeout", ospbot.DefaultStartupTimeout)
	v.SetDefault("shutdown_timeout", ospbot.DefaultShutdownTimeout)

	v.SetDefault("birthday_channel_id", "")
	v.SetDefault("birthday_announce_cron", ospbot.DefaultBirthdayAnnounceCron)

	// API config
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.development", false)
	v.SetDefault("api.listen", ospbot.DefaultAPIListen)
	v.SetDefault("api.token", "")
	v.SetDefault("api.log_level", ospbot.DefaultAPILogLevel.String())
	v.SetDefault("api.read_timeout", ospbot.DefaultReadTimeout)
	v.SetDefault("api.read_header_timeout", ospbot.DefaultReadHeaderTimeout)
	v.SetDefault("api.write_timeout", ospbot.DefaultWriteTimeout)
	v.SetDefault("api.idle_timeout", ospbot.DefaultIdleTimeout)

	// API: SSL config
	v.SetDefault("api.ssl.cert", "")
	v.SetDefault("api.ssl.key", "")
	v.SetDefault("api.ssl.tls_min_version", ospbot.DefaultAPITLSMinVersion)

	// API: CORS config
	v.SetDefault("api.cors.allow_origins", []string{})
	v.SetDefault("api.cors.allow_methods", ospbot.DefaultCORSAllowMethods)
	v.SetDefault("api.cors.allow_headers", ospbot.DefaultCORSAllowHeaders)
	v.SetDefault("api.cors.expose_headers", ospbot.DefaultCORSExposeHeaders)
	v.SetDefault("api.cors.allow_credentials", ospbot.DefaultAPICORSAllowCredentials)
	v.SetDefault("api.cors.max_age", ospbot.DefaultCORSMaxAge)
}

// configureViper sets defaults, reads the YAML config file and enables
// environment overrides. A missing file is only an error when path was
// given explicitly.
func configureViper(v *viper.Viper, path string) error {
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = ospbot.DefaultConfigFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	envPrefix := os.Getenv(ospbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = ospbot.DefaultEnvPrefix
	}
	v.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()
	return nil
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(envFile); err != nil {
		log.Fatalf("error loading env file %s: %v", envFile, err)
	}

	if err := configureViper(viper.GetViper(), configFile); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		fmt.Sprintf("YAML config file to use (default %s)", ospbot.DefaultConfigFile),
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"dotenv file to load into the environment (default .env)",
	)
}
