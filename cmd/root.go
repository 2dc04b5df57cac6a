package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/console"
	"github.com/zjrosen/metaportal/internal/fetch"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/tracing"
	"github.com/zjrosen/metaportal/internal/updater"
)

var (
	version = "dev"
	cfgFile string
	logFile string
	debug   bool

	cfg      config.Config
	cfgPath  string
	provider *tracing.Provider
	runSpan  trace.Span
	closeLog func()
)

// Collaborators built from the loaded config. Tests replace them.
var (
	newFetcher = func(config.Config) fetch.Fetcher {
		return fetch.NewCached(fetch.NewRPC())
	}
	newReleases = func(c config.Config) updater.ReleaseSource {
		return fetch.NewGitHub(c.Github.APIURL, os.Getenv(c.Github.TokenEnv))
	}
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "metaportal",
	Short: "Maintain the QR assets of the metadata portal",
	Long: `Maintain the directory of chain metadata and chain specs QR codes served
by the metadata portal: generate missing codes, sign them, verify them,
remove outdated ones and export the portal's data file.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")
}

// setup initializes logging, configuration and tracing for every subcommand.
func setup(cmd *cobra.Command, _ []string) error {
	cleanup, err := log.Init(logFile)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	closeLog = cleanup
	if debug {
		log.SetMinLevel(log.LevelDebug)
	}

	cfgPath = cfgFile
	if cfgPath == "" {
		cfgPath = config.DefaultPath
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			if err := config.WriteDefaultConfig(cfgPath); err != nil {
				return fmt.Errorf("writing default config: %w", err)
			}
			log.Info(log.CatConfig, "Created default config", "path", cfgPath)
		}
	}

	cfg, err = config.Load(viper.New(), cfgPath)
	if err != nil {
		return err
	}

	provider, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	// Subcommands keep the context of their first run; the root carries the
	// context of this one.
	ctx, span := tracing.Start(cmd.Root().Context(), "metaportal."+cmd.Name(),
		attribute.String(tracing.AttrRunID, log.RunID()),
	)
	runSpan = span
	cmd.SetContext(ctx)

	log.Debug(log.CatConfig, "Starting", "command", cmd.Name(), "version", version, "chains", len(cfg.Chains))
	return nil
}

// teardown flushes traces and closes the log file. It runs after the
// subcommand whether or not it failed.
func teardown(err error) {
	if runSpan != nil {
		tracing.Finish(runSpan, err)
		runSpan = nil
	}
	if provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := provider.Shutdown(ctx); serr != nil {
			log.ErrorErr(log.CatConfig, "Flushing traces failed", serr)
		}
		cancel()
		provider = nil
	}
	if err != nil && !IsQuiet(err) {
		log.ErrorErr(log.CatConfig, "Command failed", err)
	}
	if closeLog != nil {
		closeLog()
		closeLog = nil
	}
}

func printer(cmd *cobra.Command) *console.Printer {
	return console.New(cmd.OutOrStdout())
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	teardown(err)
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
