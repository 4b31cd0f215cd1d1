// Mediumsim replays a scripted simulation scenario against the medium
// environment and exposes scheduler metrics over a Prometheus endpoint.
//
// Usage:
//
//	mediumsim run --scenario scenario.yaml [flags]
//
// See 'mediumsim run --help' for available options.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nearfield/mediumsim/core"
	"github.com/nearfield/mediumsim/internal/simconfig"
	"github.com/nearfield/mediumsim/mediumenv"
	obs "github.com/nearfield/mediumsim/observability/prometheus"
	"github.com/nearfield/mediumsim/observability/zaplog"
)

const version = "0.3.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mediumsim",
	Short:   "Simulated multi-radio environment runner",
	Long:    "Mediumsim replays YAML scenarios of Bluetooth, WiFi LAN and WebRTC signaling\nevents against an in-memory medium environment.",
	Version: version,
}

var (
	scenarioPath string
	logLevel     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a scenario file",
	Example: `  # Replay a scenario with debug logging
  mediumsim run --scenario scenario.yaml --log-level debug`,
	RunE: runScenario,
}

func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to scenario YAML file (required)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	_ = runCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(runCmd)
}

// simulated identities; compared by pointer
type (
	simAdapter struct{ id string }
	simDevice  struct{ id string }
	simMedium  struct{ id string }
	simService struct{ id string }
)

// simDeviceSet holds the simulated objects backing one scenario device.
type simDeviceSet struct {
	decl    simconfig.Device
	adapter *simAdapter
	device  *simDevice
	medium  *simMedium
	service *simService
	wifiCb  mediumenv.WifiLanDiscoveredServiceCallback
}

func runScenario(cmd *cobra.Command, args []string) error {
	scenario, err := simconfig.Load(scenarioPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("mediumsim", registry, obs.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("creating metrics exporter: %w", err)
	}
	poller, err := obs.NewSnapshotPoller(registry, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("creating snapshot poller: %w", err)
	}

	env := mediumenv.New(
		mediumenv.WithLogger(zaplog.New(logger)),
		mediumenv.WithMetrics(exporter),
	)
	poller.AddEnvironment("scenario", env)

	var discovered, lost, messages atomic.Int64

	devices := make(map[string]*simDeviceSet, len(scenario.Devices))
	for _, decl := range scenario.Devices {
		set := &simDeviceSet{decl: decl}
		switch decl.Medium {
		case simconfig.MediumBluetooth:
			set.adapter = &simAdapter{id: decl.ID}
			set.device = &simDevice{id: decl.ID}
			set.medium = &simMedium{id: decl.ID}
			env.RegisterBluetoothMedium(set.medium, set.adapter)
			env.UpdateBluetoothMedium(set.medium, bluetoothCallback(logger, decl.ID, &discovered, &lost))
		case simconfig.MediumWifiLan:
			set.medium = &simMedium{id: decl.ID}
			set.service = &simService{id: decl.ServiceID}
			set.wifiCb = wifiLanCallback(logger, decl.ID, &discovered, &lost)
			env.RegisterWifiLanMedium(set.medium, set.service)
			env.UpdateWifiLanMediumForDiscovery(set.medium, set.service, decl.ServiceID, set.wifiCb, true)
		case simconfig.MediumWebRtc:
			env.RegisterWebRtcSignalingMessenger(decl.ID, func(message []byte) {
				messages.Add(1)
				logger.Info("signaling message received",
					zap.String("device", decl.ID),
					zap.Int("bytes", len(message)))
			})
		}
		devices[decl.ID] = set
	}

	// Barrier: registrations are done and dispatch is live from here on.
	env.Sync(true)

	runner := core.NewThreadPoolTaskRunnerWithConfig("scenario", scenario.Workers, &core.RunnerConfig{
		Metrics: exporter,
		Logger:  zaplog.New(logger),
	})
	poller.AddRunner("scenario", runner)
	poller.Start(cmd.Context())
	defer poller.Stop()

	server := startMetricsServer(scenario.MetricsAddr, registry, logger)
	if server != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
	}

	logger.Info("replaying scenario",
		zap.String("name", scenario.Name),
		zap.Int("devices", len(devices)),
		zap.Int("events", len(scenario.Events)),
		zap.Int("workers", scenario.Workers))

	for _, event := range scenario.Events {
		set := devices[event.Device]
		task := eventTask(env, set, event)
		if !runner.PostDelayedTask(event.After.Std(), task) {
			return fmt.Errorf("scheduling event for %q failed", event.Device)
		}
	}

	time.Sleep(scenario.Duration.Std())

	// Quiesce: stop dispatching notifications, then drain the runner.
	env.Sync(false)
	runner.Shutdown()

	stats := env.GetStats()
	logger.Info("scenario finished",
		zap.Int64("discovered", discovered.Load()),
		zap.Int64("lost", lost.Load()),
		zap.Int64("messages", messages.Load()),
		zap.Int("bluetooth_mediums", stats.BluetoothMediums),
		zap.Int("wifi_lan_mediums", stats.WifiLanMediums),
		zap.Int("signaling_messengers", stats.SignalingMessengers))
	return nil
}

func eventTask(env *mediumenv.Environment, set *simDeviceSet, event simconfig.Event) core.Task {
	enabled := true
	if event.Enabled != nil {
		enabled = *event.Enabled
	}
	name := event.Name
	if name == "" {
		name = set.decl.ID
	}

	return func(ctx context.Context) {
		switch event.Kind {
		case simconfig.EventAdapterState:
			env.OnBluetoothAdapterChangedState(set.adapter, set.device, name,
				enabled, mediumenv.ScanModeConnectableDiscoverable)
		case simconfig.EventAdvertise:
			env.UpdateWifiLanMediumForAdvertising(set.medium, set.service, set.decl.ServiceID, enabled)
		case simconfig.EventDiscover:
			env.UpdateWifiLanMediumForDiscovery(set.medium, set.service, set.decl.ServiceID,
				set.wifiCb, enabled)
		case simconfig.EventSendMessage:
			env.SendWebRtcSignalingMessage(event.Peer, []byte(event.Message))
		}
	}
}

func bluetoothCallback(logger *zap.Logger, id string, discovered, lost *atomic.Int64) mediumenv.BluetoothDiscoveryCallback {
	return mediumenv.BluetoothDiscoveryCallback{
		DeviceDiscovered: func(device mediumenv.BluetoothDevice) {
			discovered.Add(1)
			logger.Info("bluetooth device discovered", zap.String("observer", id))
		},
		DeviceNameChanged: func(device mediumenv.BluetoothDevice) {
			logger.Info("bluetooth device renamed", zap.String("observer", id))
		},
		DeviceLost: func(device mediumenv.BluetoothDevice) {
			lost.Add(1)
			logger.Info("bluetooth device lost", zap.String("observer", id))
		},
	}
}

func wifiLanCallback(logger *zap.Logger, id string, discovered, lost *atomic.Int64) mediumenv.WifiLanDiscoveredServiceCallback {
	return mediumenv.WifiLanDiscoveredServiceCallback{
		ServiceDiscovered: func(service mediumenv.WifiLanService, serviceID string) {
			discovered.Add(1)
			logger.Info("wifi lan service discovered",
				zap.String("observer", id), zap.String("service_id", serviceID))
		},
		ServiceLost: func(service mediumenv.WifiLanService, serviceID string) {
			lost.Add(1)
			logger.Info("wifi lan service lost",
				zap.String("observer", id), zap.String("service_id", serviceID))
		},
	}
}

func startMetricsServer(addr string, registry *prom.Registry, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics endpoint up", zap.String("addr", addr))
	return server
}

func newLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	config := zap.NewDevelopmentConfig()
	config.Level = zapLevel
	return config.Build()
}
