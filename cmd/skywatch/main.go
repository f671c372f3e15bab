package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/config"
	"github.com/skywatchhq/skywatch/internal/logging"
	"github.com/skywatchhq/skywatch/internal/metrics"
	"github.com/skywatchhq/skywatch/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "skywatch",
	Short:   "Skywatch - metrics and alarms pipeline",
	Long:    `Metrics ingestion, threshold alarm evaluation and notification delivery over a message bus and a document store`,
	Version: Version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("skywatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(apiCmd, engineCmd, persisterCmd, notifierCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config, initializes logging for the component and
// installs the signal-cancelled root context.
func setup(component string) (*config.Config, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: component,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return cfg, ctx, stop, nil
}

func newStore(cfg *config.Config, docType string) (*storage.Client, error) {
	strategy, err := cfg.IndexStrategy()
	if err != nil {
		return nil, err
	}
	return storage.NewClient(cfg.StoreConfig(), docType, strategy)
}

// serveTelemetry exposes the Prometheus endpoint of a non-API process.
func serveTelemetry(ctx context.Context, g *errgroup.Group, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: listen, Handler: mux}

	g.Go(func() error {
		log.Info().Str("listen", listen).Msg("Telemetry listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// waitGroup drains the errgroup and maps a cooperative shutdown to nil.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
