// Command objectio-osd is the storage daemon: it owns one or more disks,
// serves StorageService over gRPC, and registers itself with the metadata
// service so the placement engine knows it exists.
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

	"github.com/cloudomate/objectio/pkg/client"
	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
	"github.com/cloudomate/objectio/pkg/storage"
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
	Use:     "objectio-osd",
	Short:   "objectio storage daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("objectio-osd version %s\nCommit: %s\n", Version, Commit))
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
	Short: "Start the storage daemon",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringSlice("disk", nil, "Path to a disk image, one per --disk flag (created on first start if missing)")
	startCmd.Flags().Uint64("disk-blocks", 256, "Total blocks to format a new disk image with")
	startCmd.Flags().Uint32("block-size", storage.DefaultBlockSize, "Block size in bytes to format a new disk image with")
	startCmd.Flags().String("listen", "0.0.0.0:7000", "StorageService gRPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9100", "Metrics/health HTTP listen address")
	startCmd.Flags().String("state-dir", "./osd-data", "Directory for per-disk metadata stores and the node identity file")
	startCmd.Flags().String("manager-addr", "", "MetadataService address to register with (skipped if empty)")
	startCmd.Flags().String("node-name", "", "Human-readable node name reported to the metadata service")
	startCmd.Flags().StringSlice("rack", nil, "Failure domain as region,datacenter,rack (defaults to single-node domain)")
	_ = startCmd.MarkFlagRequired("disk")
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("osd")

	diskPaths, _ := cmd.Flags().GetStringSlice("disk")
	diskBlocks, _ := cmd.Flags().GetUint64("disk-blocks")
	blockSize, _ := cmd.Flags().GetUint32("block-size")
	listenAddr, _ := cmd.Flags().GetString("listen")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	stateDir, _ := cmd.Flags().GetString("state-dir")
	managerAddr, _ := cmd.Flags().GetString("manager-addr")
	nodeName, _ := cmd.Flags().GetString("node-name")
	rackParts, _ := cmd.Flags().GetStringSlice("rack")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	nodeID, err := loadOrCreateNodeID(filepath.Join(stateDir, "node-id"))
	if err != nil {
		return fmt.Errorf("load node id: %w", err)
	}
	logger.Info().Str("node_id", nodeID.String()).Msg("node identity loaded")

	svc := storage.NewService()
	var diskIDs []common.DiskId
	for _, path := range diskPaths {
		diskID, err := openOrFormatDisk(svc, path, stateDir, diskBlocks, blockSize)
		if err != nil {
			return fmt.Errorf("open disk %s: %w", path, err)
		}
		diskIDs = append(diskIDs, diskID)
		logger.Info().Str("disk_id", diskID.String()).Str("path", path).Msg("disk attached")
	}
	metrics.RegisterComponent("disks", true, fmt.Sprintf("%d disk(s) attached", len(diskIDs)))

	stop := make(chan struct{})
	go svc.StartMaintenance(30*time.Second, stop)
	go svc.StartMetaCompaction(60*time.Second, stop)
	defer close(stop)

	server := grpc.NewServer(rpc.ServerOptions(nil, nil)...)
	rpc.RegisterStorageServer(server, rpc.NewStorageServer(svc))

	lis, err := newListener(listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("storage server error: %v", err)
		}
	}()
	logger.Info().Str("addr", listenAddr).Msg("StorageService listening")
	metrics.RegisterComponent("grpc", true, "serving")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("disks", "grpc")
	go serveMetrics(metricsAddr, logger)

	if managerAddr != "" {
		domain := placement.FailureDomainInfo{Region: "default", Datacenter: "default", Rack: "default"}
		if len(rackParts) == 3 {
			domain = placement.FailureDomainInfo{Region: rackParts[0], Datacenter: rackParts[1], Rack: rackParts[2]}
		}
		if err := registerWithManager(managerAddr, nodeID, listenAddr, nodeName, diskIDs, domain); err != nil {
			logger.Warn().Err(err).Msg("registration with metadata service failed, continuing unregistered")
			metrics.RegisterComponent("registration", false, err.Error())
		} else {
			logger.Info().Str("manager_addr", managerAddr).Msg("registered with metadata service")
			metrics.RegisterComponent("registration", true, "registered")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
	}

	server.GracefulStop()
	if err := svc.Checkpoint(); err != nil {
		logger.Warn().Err(err).Msg("final checkpoint failed")
	}
	if err := svc.SnapshotMeta(); err != nil {
		logger.Warn().Err(err).Msg("final metadata snapshot failed")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// openOrFormatDisk reopens path if it already carries a valid superblock,
// formatting it fresh otherwise. The disk's own metadata store lives under
// stateDir/<disk-id>, keyed by the id recorded in the superblock so a
// restart with the same image reattaches the same store.
func openOrFormatDisk(svc *storage.Service, path, stateDir string, totalBlocks uint64, blockSize uint32) (common.DiskId, error) {
	dm, err := storage.OpenDiskManager(path)
	if err != nil {
		dm, err = storage.FormatDisk(path, common.NewDiskId(), totalBlocks, blockSize)
		if err != nil {
			return common.DiskId{}, err
		}
	}
	diskID := dm.Superblock().DiskId

	metaStore, err := storage.OpenMetadataStore(storage.DefaultMetadataStoreConfig(filepath.Join(stateDir, diskID.String())))
	if err != nil {
		dm.Close()
		return common.DiskId{}, err
	}
	svc.AddDisk(diskID, dm, metaStore)
	return diskID, nil
}

func loadOrCreateNodeID(path string) (common.NodeId, error) {
	if data, err := os.ReadFile(path); err == nil {
		return common.ParseNodeId(string(data))
	}
	id := common.NewNodeId()
	if err := os.WriteFile(path, []byte(id.String()), 0o644); err != nil {
		return common.NodeId{}, err
	}
	return id, nil
}

func registerWithManager(managerAddr string, nodeID common.NodeId, listenAddr, nodeName string, diskIDs []common.DiskId, domain placement.FailureDomainInfo) error {
	pool := client.NewPool(nil)
	defer pool.Close()

	mc, err := pool.Metadata(managerAddr)
	if err != nil {
		return err
	}
	if nodeName == "" {
		nodeName = nodeID.String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = mc.RegisterOsd(ctx, &rpc.RegisterOsdRequest{
		NodeId:  nodeID,
		Address: listenAddr,
		Name:    nodeName,
		DiskIds: diskIDs,
		Domain:  domain,
		Weight:  1.0,
	})
	return err
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

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
