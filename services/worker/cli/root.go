package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "go-audit-jobs worker: queues, ETL processors, ingress and REST API",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/worker/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./worker.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "PostgreSQL DSN; empty disables job history")
	rootCmd.PersistentFlags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables events and ingress")
	rootCmd.PersistentFlags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("redis_addr", rootCmd.PersistentFlags(), "redis-addr")
	bindFlag("postgres_dsn", rootCmd.PersistentFlags(), "postgres-dsn")
	bindFlag("kafka_brokers", rootCmd.PersistentFlags(), "kafka-brokers")
	bindFlag("otel_endpoint", rootCmd.PersistentFlags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	viper.SetDefault("events_topic", "jobs.events")
	viper.SetDefault("submit_topic", "jobs.submit")
	viper.SetDefault("dlq_topic", "jobs.dlq")
	viper.SetDefault("result_ttl", "24h")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd("worker", defaultWorkerYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("worker")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.go-audit-jobs")
		viper.AddConfigPath("/etc/go-audit-jobs")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

func buildLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}

// bindLocal binds flags that several subcommands define under the same key.
// Binding at run time keeps the running command's flag in effect.
func bindLocal(pairs ...string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		for i := 0; i+1 < len(pairs); i += 2 {
			bindFlag(pairs[i], cmd.Flags(), pairs[i+1])
		}
	}
}
