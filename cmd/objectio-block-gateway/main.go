// Command objectio-block-gateway is the block volume composition root: it
// wires the write cache, durable journal, and flush pipeline against the
// cluster's metadata and storage daemons so a block volume's dirty chunks
// get erasure coded and scattered the same way an object PUT would, and
// exposes that wiring as a BlockService for volume lifecycle management and
// Read/Write/Flush/Trim. The NBD front end that would drive a real block
// device's I/O into this process through the kernel is a separate,
// not-yet-built collaborator; in its absence this binary also runs a
// periodic sweep that flushes whatever the cache already holds dirty, so
// the pipeline stays demonstrably live between explicit Flush calls.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/block"
	"github.com/cloudomate/objectio/pkg/client"
	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
	"github.com/cloudomate/objectio/pkg/placement"
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
	Use:     "objectio-block-gateway",
	Short:   "objectio block volume gateway",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("objectio-block-gateway version %s\nCommit: %s\n", Version, Commit))
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
	Short: "Start the block volume gateway",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("manager-addr", "127.0.0.1:7100", "MetadataService address")
	startCmd.Flags().String("rpc-addr", "127.0.0.1:7300", "BlockService gRPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9103", "Metrics/health HTTP listen address")
	startCmd.Flags().String("state-dir", "./block-gateway-data", "Directory for the journal, chunk table, manifest index, and volume catalog")
	startCmd.Flags().Uint8("ec-k", 4, "Erasure coding data shard count")
	startCmd.Flags().Uint8("ec-m", 2, "Erasure coding global parity count")
	startCmd.Flags().Duration("directory-refresh", 5*time.Second, "How often to refresh the node directory from the metadata service")
	startCmd.Flags().Int("chunk-size", 4<<20, "Chunk size in bytes for the write cache")
	startCmd.Flags().Int64("cache-bytes", 512<<20, "Maximum write cache size in bytes")
	startCmd.Flags().Int64("journal-max-bytes", 256<<20, "Maximum journal file size before rotation")
	startCmd.Flags().Duration("sweep-interval", 2*time.Second, "How often to flush dirty chunks in the absence of a real NBD front end")
	startCmd.Flags().StringSlice("volume", nil, "Volume names to pre-create with default QoS at startup")
}

// remotePlacer satisfies block.Placer by delegating to the metadata
// service's GetPlacement RPC instead of mirroring cluster topology and
// running Crush2 locally, the same split objectio-gateway relies on for
// object PUT placement: the algorithm runs once, server-side.
type remotePlacer struct {
	mc rpc.MetadataClient
}

func (p *remotePlacer) SelectPlacement(id common.ObjectId, template placement.PlacementTemplate) []placement.Placement {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := p.mc.GetPlacement(ctx, &rpc.GetPlacementRequest{ObjectId: id, StorageClass: "block", Template: template})
	if err != nil {
		return nil
	}
	return resp.Result.Nodes
}

// blockGateway bundles the write cache, journal, flush pipeline, QoS
// manager, and volume catalog a BlockService call dispatches into, plus the
// gRPC server that exposes them. Nothing in this file drives NBD traffic
// into it yet; sweepDirty stands in for that front end's flush triggers.
type blockGateway struct {
	pool       *client.Pool
	directory  *client.PolledDirectory
	shards     *client.ShardClient
	manifests  *client.BoltManifestStore
	chunks     *client.BoltChunkTable
	gatherer   *client.Gatherer
	journal    *block.Journal
	cache      *block.Cache
	pipeline   *block.FlushPipeline
	qos        *block.QosManager
	volumes    *block.VolumeStore
	service    *block.Service
	grpcServer *grpc.Server
	template   placement.PlacementTemplate
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("block-gateway")

	managerAddr, _ := cmd.Flags().GetString("manager-addr")
	rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	stateDir, _ := cmd.Flags().GetString("state-dir")
	ecK, _ := cmd.Flags().GetUint8("ec-k")
	ecM, _ := cmd.Flags().GetUint8("ec-m")
	refresh, _ := cmd.Flags().GetDuration("directory-refresh")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	cacheBytes, _ := cmd.Flags().GetInt64("cache-bytes")
	journalMaxBytes, _ := cmd.Flags().GetInt64("journal-max-bytes")
	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
	volumes, _ := cmd.Flags().GetStringSlice("volume")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	gw, err := newBlockGateway(managerAddr, stateDir, ecK, ecM, chunkSize, cacheBytes, journalMaxBytes, refresh, logger)
	if err != nil {
		return fmt.Errorf("wire block gateway: %w", err)
	}
	defer gw.Close()

	for _, name := range volumes {
		if _, err := gw.service.CreateVolume(name, 0, block.DefaultVolumeQosConfig()); err != nil {
			logger.Warn().Err(err).Str("name", name).Msg("failed to pre-create volume")
		}
	}
	if n, err := gw.recoverJournal(); err != nil {
		return fmt.Errorf("recover journal: %w", err)
	} else if n > 0 {
		logger.Info().Int("entries", n).Msg("replayed journal entries into write cache")
	}

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rpcAddr, err)
	}
	rpc.RegisterBlockServer(gw.grpcServer, rpc.NewBlockServer(gw.service))
	errCh := make(chan error, 1)
	go func() {
		if err := gw.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	metrics.RegisterComponent("metadata_client", true, "connected")
	metrics.RegisterComponent("journal", true, "open")
	metrics.RegisterComponent("chunk_table", true, "open")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("metadata_client", "journal", "chunk_table")
	go serveMetrics(metricsAddr, logger)

	stopSweep := make(chan struct{})
	sweepDone := make(chan struct{})
	go gw.sweepDirty(sweepInterval, stopSweep, sweepDone, logger)

	logger.Info().
		Str("manager_addr", managerAddr).
		Str("rpc_addr", rpcAddr).
		Str("template", gw.template.Name).
		Int("volumes", len(volumes)).
		Msg("block gateway wired and ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("block service listener failed")
	}
	gw.grpcServer.GracefulStop()
	close(stopSweep)
	<-sweepDone
	if _, err := gw.journal.Checkpoint(); err != nil {
		logger.Warn().Err(err).Msg("final checkpoint failed")
	}
	return nil
}

func newBlockGateway(managerAddr, stateDir string, ecK, ecM uint8, chunkSize int, cacheBytes, journalMaxBytes int64, refresh time.Duration, logger zerolog.Logger) (*blockGateway, error) {
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

	chunks, err := client.OpenBoltChunkTable(filepath.Join(stateDir, "chunk-table.db"))
	if err != nil {
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}

	codec, err := erasure.New(erasure.MDSConfig(ecK, ecM))
	if err != nil {
		chunks.Close()
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}

	gatherer := client.NewGatherer(shards, manifests, codec)

	journal, err := block.OpenJournal(filepath.Join(stateDir, "journal.log"), journalMaxBytes)
	if err != nil {
		chunks.Close()
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}

	volumes, err := block.OpenVolumeStore(stateDir)
	if err != nil {
		journal.Close()
		chunks.Close()
		manifests.Close()
		directory.Stop()
		pool.Close()
		return nil, err
	}

	cache := block.NewCache(chunkSize, cacheBytes)
	template := placement.MDSTemplate(ecK, ecM)

	pipeline := block.NewFlushPipeline(block.FlushPipelineConfig{
		Cache:      cache,
		Journal:    journal,
		Codec:      codec,
		Template:   template,
		Placer:     &remotePlacer{mc: mc},
		Writer:     shards,
		Reader:     gatherer,
		ChunkTable: chunks,
		Manifests:  manifests,
	})

	qos := block.NewQosManager()
	service := block.NewService(volumes, cache, pipeline, qos, chunks, manifests)

	return &blockGateway{
		pool:       pool,
		directory:  directory,
		shards:     shards,
		manifests:  manifests,
		chunks:     chunks,
		gatherer:   gatherer,
		journal:    journal,
		cache:      cache,
		pipeline:   pipeline,
		qos:        qos,
		volumes:    volumes,
		service:    service,
		grpcServer: grpc.NewServer(rpc.ServerOptions(nil, nil)...),
		template:   template,
	}, nil
}

// recoverJournal replays any write entries left by an unclean shutdown back
// into the write cache so their dirty bytes survive to the next sweep,
// mirroring what a real NBD front end would do on attach.
func (g *blockGateway) recoverJournal() (int, error) {
	entries, err := g.journal.Recover()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Type != block.EntryWrite {
			continue
		}
		key := block.ChunkKey{VolumeId: e.VolumeId, ChunkId: e.ChunkId}
		g.cache.Write(key, int(e.Offset), e.Data)
	}
	return len(entries), nil
}

// sweepDirty periodically flushes every chunk the write cache currently
// holds dirty. It stands in for the NBD front end's natural flush
// triggers (fsync, unmount, cache pressure) until that front end exists.
func (g *blockGateway) sweepDirty(interval time.Duration, stop <-chan struct{}, done chan<- struct{}, logger zerolog.Logger) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, key := range g.cache.DirtyChunks() {
				if err := g.pipeline.Flush(key.VolumeId, key.ChunkId); err != nil {
					logger.Warn().Err(err).Str("volume_id", key.VolumeId).Uint64("chunk_id", key.ChunkId).Msg("sweep flush failed")
				}
			}
		case <-stop:
			return
		}
	}
}

func (g *blockGateway) Close() {
	g.journal.Close()
	g.volumes.Close()
	g.chunks.Close()
	g.manifests.Close()
	g.directory.Stop()
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
