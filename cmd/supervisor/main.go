package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-zookeeper/zk"
	"github.com/spf13/cobra"

	"github.com/cuemby/bubuku-go/pkg/brokerlifecycle"
	"github.com/cuemby/bubuku-go/pkg/clusterview"
	"github.com/cuemby/bubuku-go/pkg/config"
	"github.com/cuemby/bubuku-go/pkg/controller"
	"github.com/cuemby/bubuku-go/pkg/coordination"
	"github.com/cuemby/bubuku-go/pkg/diskimbalance"
	"github.com/cuemby/bubuku-go/pkg/localstate"
	"github.com/cuemby/bubuku-go/pkg/log"
	"github.com/cuemby/bubuku-go/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "supervisor",
	Short:   "Per-node control core for a coordination-store-backed broker cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"supervisor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to the supervisor configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor control loop",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("broker-id", "", "Local broker id (empty lets the broker assign its own)")
	startCmd.Flags().String("state-dir", "/var/lib/supervisor", "Directory for local durable state")
}

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	brokerID, _ := cmd.Flags().GetString("broker-id")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	metrics.SetVersion(Version)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	store, err := localstate.Open(stateDir + "/supervisor.db")
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	defer store.Close()

	discovery := coordination.NewEnsembleDiscovery(
		cfg.Discovery.Hosts, cfg.Discovery.Port, cfg.Discovery.URIPath,
		cfg.Discovery.PollInterval, cfg.Discovery.Timeout, store.LastConnString(),
	)
	metrics.RegisterComponent("coordination", false, "connecting")

	coordClient, err := coordination.NewClient(discovery, cfg.Coordinator.KeyPrefix, coordination.DefaultRetryPolicy())
	if err != nil {
		return fmt.Errorf("connect to coordination store: %w", err)
	}
	coordClient.OnSessionEvent = func(ev zk.Event) {
		switch ev.State {
		case zk.StateDisconnected, zk.StateExpired:
			metrics.RegisterComponent("coordination", false, "session "+ev.State.String())
		case zk.StateHasSession:
			metrics.RegisterComponent("coordination", true, "connected")
		}
	}
	metrics.RegisterComponent("coordination", true, "connected")
	if err := store.SaveConnString(discovery.ConnString()); err != nil {
		log.WithComponent("supervisor").Warn().Err(err).Msg("failed to persist coordination connection string")
	}

	view, err := clusterview.New(coordClient)
	if err != nil {
		return fmt.Errorf("construct cluster view: %w", err)
	}

	properties, err := brokerlifecycle.NewFileKafkaProperties(cfg.Broker.PropertiesFile)
	if err != nil {
		return fmt.Errorf("load broker properties: %w", err)
	}
	idGen := brokerlifecycle.NewClusterIDGenerator(view, brokerID)
	waitTimeout := store.WaitTimeout(cfg.Broker.WaitTimeout)
	lifecycle := brokerlifecycle.New(cfg.Broker.KafkaDir, view, idGen, properties, waitTimeout)
	if !lifecycle.Start(discovery.ConnString()) {
		return fmt.Errorf("failed to start local broker process")
	}
	if err := store.SaveWaitTimeout(lifecycle.WaitTimeout()); err != nil {
		log.WithComponent("supervisor").Warn().Err(err).Msg("failed to persist broker wait_timeout")
	}

	envProvider := hostIPProvider{}
	ctrl := controller.New(view, envProvider)
	ctrl.AddCheck(diskimbalance.NewCheck(view, lifecycle, cfg.DiskCheck.ThresholdKB, cfg.DiskCheck.Interval))
	metrics.RegisterComponent("controller", true, "ready")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			log.Error(fmt.Sprintf("metrics server error: %v", err))
		}
	}()
	log.Info(fmt.Sprintf("metrics and health endpoints listening on %s", cfg.Metrics.ListenAddr))

	done := make(chan struct{})
	go func() {
		ctrl.Loop()
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("received shutdown signal, draining controller")
	ctrl.Stop(nil)
	<-done
	log.Info("shutdown complete")
	return nil
}

// hostIPProvider is the ambient EnvProvider collaborator: the stable
// identifier a supervisor registers changes under is its own outbound
// IP address.
type hostIPProvider struct{}

func (hostIPProvider) GetID() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		hostname, hErr := os.Hostname()
		if hErr != nil {
			return "unknown"
		}
		return hostname
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
