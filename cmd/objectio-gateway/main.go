// Command objectio-gateway is the object gateway composition root: it wires
// the placement client, erasure codec, and scatter-gather listing engine
// against the cluster's metadata and storage daemons. The S3 wire protocol
// itself is a separate, not-yet-built collaborator; this binary's job ends
// at standing up every component an S3 handler would call into.
package main

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudomate/objectio/pkg/client"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
	"github.com/cloudomate/objectio/pkg/scatter"
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
	Use:     "objectio-gateway",
	Short:   "objectio object gateway",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("objectio-gateway version %s\nCommit: %s\n", Version, Commit))
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
	Short: "Start the object gateway",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("manager-addr", "127.0.0.1:7100", "MetadataService address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9102", "Metrics/health HTTP listen address")
	startCmd.Flags().String("state-dir", "./gateway-data", "Directory for the local shard-manifest index")
	startCmd.Flags().Uint8("ec-k", 4, "Erasure coding data shard count")
	startCmd.Flags().Uint8("ec-m", 2, "Erasure coding global parity count")
	startCmd.Flags().Duration("directory-refresh", 5*time.Second, "How often to refresh the node directory from the metadata service")
}

// gateway bundles every component an S3 request handler would call into:
// placement/erasure via a Gatherer (object reconstruction), scatter-gather
// listing via an Engine, and the metadata client for bucket/placement
// lookups. Nothing in this file drives HTTP traffic into it yet.
type gateway struct {
	pool       *client.Pool
	metaClient rpc.MetadataClient
	directory  *client.PolledDirectory
	shards     *client.ShardClient
	manifests  *client.BoltManifestStore
	gatherer   *client.Gatherer
	engine     *scatter.Engine
	codec      *erasure.Codec
	template   placement.PlacementTemplate
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("gateway")

	managerAddr, _ := cmd.Flags().GetString("manager-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	stateDir, _ := cmd.Flags().GetString("state-dir")
	ecK, _ := cmd.Flags().GetUint8("ec-k")
	ecM, _ := cmd.Flags().GetUint8("ec-m")
	refresh, _ := cmd.Flags().GetDuration("directory-refresh")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	gw, err := newGateway(managerAddr, stateDir, ecK, ecM, refresh, logger)
	if err != nil {
		return fmt.Errorf("wire gateway: %w", err)
	}
	defer gw.Close()
	metrics.RegisterComponent("metadata_client", true, "connected")
	metrics.RegisterComponent("manifest_store", true, "open")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("metadata_client", "manifest_store")
	go serveMetrics(metricsAddr, logger)

	logger.Info().
		Str("manager_addr", managerAddr).
		Str("template", gw.template.Name).
		Msg("gateway wired and ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}

func newGateway(managerAddr, stateDir string, ecK, ecM uint8, refresh time.Duration, logger zerolog.Logger) (*gateway, error) {
	pool := client.NewPool(nil)

	mc, err := pool.Metadata(managerAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	directory := client.NewPolledDirectory(mc, refresh, logger)
	directory.Start()

	shards := client.NewShardClient(pool, directory)

	manifests, err := client.OpenBoltManifestStore(filepath.Join(stateDir, "manifests.db"))
	if err != nil {
		directory.Stop()
		pool.Close()
		return nil, err
	}

	codec, err := erasure.New(erasure.MDSConfig(ecK, ecM))
	if err != nil {
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}

	gatherer := client.NewGatherer(shards, manifests, codec)

	signingKey, err := loadOrCreateSigningKey(filepath.Join(stateDir, "token-key"))
	if err != nil {
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}
	signer := scatter.NewTokenSigner(signingKey)
	engine := scatter.NewEngine(scatter.EngineConfig{Signer: signer, Source: shards})

	return &gateway{
		pool:       pool,
		metaClient: mc,
		directory:  directory,
		shards:     shards,
		manifests:  manifests,
		gatherer:   gatherer,
		engine:     engine,
		codec:      codec,
		template:   placement.MDSTemplate(ecK, ecM),
	}, nil
}

// loadOrCreateSigningKey persists a random HMAC key for continuation
// tokens at path, the same load-or-create idiom objectio-osd uses for its
// node identity.
func loadOrCreateSigningKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func (g *gateway) Close() {
	g.directory.Stop()
	g.manifests.Close()
	g.pool.Close()
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
