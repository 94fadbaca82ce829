// Package cli provides the command line interface for cocained and
// cocainectl, grounded on the teacher's internal/cli: Cobra for command
// structure, a YAML config file for the daemon, and the same
// load-config/build-collaborators/serve/wait-for-signal/drain shape the
// teacher's `run` command uses.
package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cocaine-go/cocained/internal/cluster"
	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/internal/metrics"
	"github.com/cocaine-go/cocained/internal/node"
	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/cocaine-go/cocained/internal/runtime"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

// metricsSampleInterval is how often runNode feeds each running app's
// point-in-time pool/queue state into the Prometheus gauges.
const metricsSampleInterval = 5 * time.Second

// Config is the daemon's YAML configuration file shape.
type Config struct {
	Node struct {
		Endpoint string `yaml:"endpoint"` // address slaves dial back to
		Port     int    `yaml:"port"`     // gRPC listen port
	} `yaml:"node"`

	Storage struct {
		Dir string `yaml:"dir"` // empty selects an in-memory store
	} `yaml:"storage"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"audit"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Runlist string `yaml:"runlist"` // reconciled at boot, see node.Reconcile

	Cluster struct {
		Enabled           bool     `yaml:"enabled"`
		ID                string   `yaml:"id"`
		Peers             []string `yaml:"peers"`
		ElectionTimeoutMs int      `yaml:"election_timeout_ms"`
		HeartbeatMs       int      `yaml:"heartbeat_ms"`
	} `yaml:"cluster"`
}

var configFile string

// BuildDaemonCLI returns the cocained root command: `cocained run`.
func BuildDaemonCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cocained",
		Short:   "cocained: a multi-tenant application host",
		Long:    "cocained runs an app registry, spawning and supervising slave processes per app and dispatching jobs to them over a gRPC control channel.",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.AddCommand(buildRunCommand())
	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the cocained node service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
	return cmd
}

func runNode() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("starting cocained, endpoint=%s port=%d\n", cfg.Node.Endpoint, cfg.Node.Port)

	auditPath := ""
	if cfg.Audit.Enabled {
		auditPath = cfg.Audit.Path
	}

	rt, err := runtime.New(runtime.Config{
		Endpoint:       cfg.Node.Endpoint,
		StorageDir:     cfg.Storage.Dir,
		AuditLogPath:   auditPath,
		MetricsEnabled: cfg.Metrics.Enabled,
		Cluster: runtime.ClusterConfig{
			Enabled:           cfg.Cluster.Enabled,
			ID:                cfg.Cluster.ID,
			Peers:             cfg.Cluster.Peers,
			ElectionTimeoutMs: cfg.Cluster.ElectionTimeoutMs,
			HeartbeatMs:       cfg.Cluster.HeartbeatMs,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	rt.Start()

	if cfg.Runlist != "" {
		rt.Node.Reconcile(context.Background(), cfg.Runlist)
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Printf("starting metrics server on %s\n", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server error: %v\n", err)
			}
		}()

		go sampleMetricsLoop(rt.Node, rt.Metrics, metricsSampleInterval)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Node.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Node.Port, err)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterNodeServiceServer(grpcServer, node.NewRPCServer(rt.Node))
	rpc.RegisterSlaveServiceServer(grpcServer, node.NewSlaveServer(rt.Node))
	if cfg.Cluster.Enabled {
		rpc.RegisterClusterServiceServer(grpcServer, cluster.NewServer(rt.Elector))
	}

	go func() {
		log.Printf("gRPC server listening on :%d\n", cfg.Node.Port)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v\n", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("received shutdown signal, draining")
	grpcServer.GracefulStop()

	for _, name := range rt.Node.List() {
		if err := rt.Node.PauseApp(name); err != nil {
			log.Printf("error pausing app %s during shutdown: %v\n", name, err)
		}
	}

	log.Println("cocained stopped")
	return nil
}

// sampleMetricsLoop feeds every running app's point-in-time Info snapshot
// into the metrics collector's gauges on a fixed cadence, since nothing
// else in the request path touches slave-count/queue-depth gauges (they
// are read out-of-band by whatever scrapes /metrics, not updated by any
// RPC handler).
func sampleMetricsLoop(n *node.Node, collector *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for _, name := range n.List() {
			a, ok := n.App(name)
			if !ok {
				continue
			}
			if info, ok := a.Info()["engine"].(engine.Info); ok {
				collector.Sample(name, info)
			}
		}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// dialNode opens a client connection to a running cocained instance for
// cocainectl commands.
func dialNode(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), rpc.DialOption())
}
