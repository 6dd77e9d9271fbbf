// Command objectio-meta is the metadata service: it owns the cluster's
// bbolt-backed bucket/user/multipart/Iceberg catalog and the in-memory
// placement topology, and serves MetadataService over gRPC.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/meta"
	"github.com/cloudomate/objectio/pkg/metrics"
	"github.com/cloudomate/objectio/pkg/rpc"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "objectio-meta",
	Short:   "objectio metadata service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("objectio-meta version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the metadata service",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("data-dir", "./meta-data", "Directory for the bbolt catalog file")
	startCmd.Flags().String("listen", "0.0.0.0:7100", "MetadataService gRPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9101", "Metrics/health HTTP listen address")
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("meta")

	dataDir, _ := cmd.Flags().GetString("data-dir")
	listenAddr, _ := cmd.Flags().GetString("listen")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := meta.OpenStore(dataDir)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "open")

	topo, err := meta.NewTopologyManager(store)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}
	metrics.RegisterComponent("topology", true, fmt.Sprintf("%d node(s) loaded", len(topo.Topology().AllNodes())))

	server := grpc.NewServer(rpc.ServerOptions(nil, nil)...)
	rpc.RegisterMetadataServer(server, rpc.NewMetadataServer(store, topo))

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("metadata server error: %v", err)
		}
	}()
	logger.Info().Str("addr", listenAddr).Msg("MetadataService listening")
	metrics.RegisterComponent("grpc", true, "serving")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("store", "grpc")
	go serveMetrics(metricsAddr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
	}

	server.GracefulStop()
	logger.Info().Msg("shutdown complete")
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
