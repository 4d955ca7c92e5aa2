package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/classbook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/classbook/internal/jobs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvFile            = "env-file"
	flagDatabaseURL        = "database-url"
	flagStore              = "store"
	flagHTTPListenAddr     = "http-listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagTrustedProxies     = "trusted-proxies"
	flagRequestTimeout     = "request-timeout"
	flagRateLimitPerSecond = "rate-limit-per-second"
	flagRateLimitBurst     = "rate-limit-burst"
	flagLessonWindow       = "lesson-window"
	flagCardExpirySchedule = "card-expiry-schedule"
	flagAMQPURL            = "amqp-url"
	flagAMQPExchange       = "amqp-exchange"
	flagOTLPEndpoint       = "otlp-endpoint"
	envPrefix              = "STUDIOD"

	defaultEnvFile        = ".env"
	defaultDatabaseURL    = "sqlite:///tmp/studiod.db"
	defaultHTTPListenAddr = ":8002"
	defaultRequestTimeout = 5 * time.Second
	defaultLessonWindow   = 14 * 24 * time.Hour

	storeGorm = "gorm"
	storePgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL        string
	Store              string
	HTTP               httpapi.Config
	GRPCListenAddr     string
	LessonWindow       time.Duration
	CardExpirySchedule string
	AMQPURL            string
	AMQPExchange       string
	OTLPEndpoint       string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "studiod: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "studiod",
		Short:         "Class booking and membership server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading STUDIOD_* variables")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or sqlite path")
	cmd.Flags().String(flagStore, storeGorm, "store implementation: gorm or pgx (pgx requires PostgreSQL)")
	cmd.Flags().String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC listen address (empty disables gRPC)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagTrustedProxies, "", "comma-separated proxy addresses or CIDRs allowed to set X-Forwarded-For")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request deadline")
	cmd.Flags().Float64(flagRateLimitPerSecond, 5, "booking mutations allowed per second per client")
	cmd.Flags().Int(flagRateLimitBurst, 10, "booking mutation burst per client")
	cmd.Flags().Duration(flagLessonWindow, defaultLessonWindow, "lesson listing window")
	cmd.Flags().String(flagCardExpirySchedule, jobs.DefaultCardExpirySchedule, "cron schedule for card expiry (empty disables)")
	cmd.Flags().String(flagAMQPURL, "", "RabbitMQ URL for booking events (empty disables)")
	cmd.Flags().String(flagAMQPExchange, "", "RabbitMQ exchange for booking events")
	cmd.Flags().String(flagOTLPEndpoint, "", "OTLP gRPC endpoint for traces (empty disables export)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{
		flagDatabaseURL, flagStore, flagHTTPListenAddr, flagGRPCListenAddr, flagAllowedOrigins,
		flagTrustedProxies, flagRequestTimeout, flagRateLimitPerSecond, flagRateLimitBurst, flagLessonWindow,
		flagCardExpirySchedule, flagAMQPURL, flagAMQPExchange, flagOTLPEndpoint,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(v.GetString(flagStore)))
	cfg.HTTP = httpapi.Config{
		ListenAddr:         strings.TrimSpace(v.GetString(flagHTTPListenAddr)),
		AllowedOrigins:     httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		RequestTimeout:     v.GetDuration(flagRequestTimeout),
		RateLimitPerSecond: v.GetFloat64(flagRateLimitPerSecond),
		RateLimitBurst:     v.GetInt(flagRateLimitBurst),
		TrustedProxies:     httpapi.ParseTrustedProxies(v.GetString(flagTrustedProxies)),
	}
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.LessonWindow = v.GetDuration(flagLessonWindow)
	cfg.CardExpirySchedule = strings.TrimSpace(v.GetString(flagCardExpirySchedule))
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPExchange = strings.TrimSpace(v.GetString(flagAMQPExchange))
	cfg.OTLPEndpoint = strings.TrimSpace(v.GetString(flagOTLPEndpoint))

	return cfg.validate()
}

func (cfg *runtimeConfig) validate() error {
	switch cfg.Store {
	case storeGorm:
	case storePgx:
		driver, _, err := resolveDriver(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if driver != driverPostgres {
			return fmt.Errorf("%s=%s requires a PostgreSQL %s", flagStore, storePgx, flagDatabaseURL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", flagStore, cfg.Store)
	}
	if cfg.LessonWindow < time.Second {
		return fmt.Errorf("%s must be at least one second, got %s", flagLessonWindow, cfg.LessonWindow)
	}
	return cfg.HTTP.Validate()
}

// loadEnvFile applies a dotenv file without overriding variables already set; a missing file is fine.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
