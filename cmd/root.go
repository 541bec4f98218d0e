package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/alG-N/alterGoldenBot-sub008/altergolden"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = altergolden.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "altergolden [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
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
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", altergolden.DefaultDatabase)
	viper.SetDefault("database_type", altergolden.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		altergolden.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		altergolden.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", altergolden.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", altergolden.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", altergolden.DefaultShutdownTimeout)

	// Redis config
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.addr", altergolden.DefaultRedisAddr)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", altergolden.DefaultRedisKeyPrefix)
	viper.SetDefault("redis.dial_timeout", altergolden.DefaultRedisDialTimeout)
	viper.SetDefault(
		"redis.log_level",
		altergolden.DefaultRedisLogLevel.String(),
	)

	// Cache config
	viper.SetDefault(
		"cache.sweep_interval",
		altergolden.DefaultCacheSweepInterval,
	)
	viper.SetDefault(
		"cache.writeback_buffer",
		altergolden.DefaultCacheWritebackBuffer,
	)
	viper.SetDefault(
		"cache.writeback_per_second",
		altergolden.DefaultCacheWritebackPerSecond,
	)
	viper.SetDefault(
		"cache.log_level",
		altergolden.DefaultCacheLogLevel.String(),
	)

	// Vote config
	viper.SetDefault("votes.timeout", altergolden.DefaultVoteTimeout)

	// Scheduler config
	viper.SetDefault(
		"scheduler.poll_interval",
		altergolden.DefaultSchedulerPollInterval,
	)
	viper.SetDefault("scheduler.slack", altergolden.DefaultSchedulerSlack)
	viper.SetDefault(
		"scheduler.disconnect_delay",
		altergolden.DefaultDisconnectDelay,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		altergolden.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		altergolden.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		altergolden.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.custom_status", altergolden.DefaultDiscordStatus)

	// API config
	viper.SetDefault("api.listen", altergolden.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.log_level", altergolden.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", altergolden.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		altergolden.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", altergolden.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", altergolden.DefaultIdleTimeout)
	viper.SetDefault("api.enable_pprof", false)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		altergolden.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		altergolden.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		altergolden.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", altergolden.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		altergolden.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(altergolden.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = altergolden.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	levelKeys := []string{
		"log_level",
		"database_log_level",
		"redis.log_level",
		"cache.log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	}
	for _, key := range levelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
