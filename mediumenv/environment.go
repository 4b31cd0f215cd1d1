package mediumenv

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nearfield/mediumsim/core"
)

// Environment is a simulated environment which allows multiple instances of
// simulated radio devices to "work" together as if they were physical. For
// each medium kind it provides the methods needed to implement advertising,
// discovery and establishment of a data link.
//
// Every public operation is scheduled as a job on a dedicated
// SingleThreadExecutor, so all registry mutation and notification dispatch is
// logically sequential even though callers invoke operations from arbitrary
// threads. Any two registry operations, even across different medium kinds,
// are totally ordered relative to each other, which is what makes
// deterministic test replay possible.
type Environment struct {
	enabled             atomic.Bool
	enableNotifications atomic.Bool
	jobCount            atomic.Int32

	executor *core.SingleThreadExecutor
	logger   core.Logger

	// The following members are accessed only from the executor thread.
	bluetoothAdapters map[BluetoothAdapter]BluetoothDevice
	bluetoothMediums  *identityRegistry[BluetoothMedium, *bluetoothMediumContext]
	wifiLanMediums    *identityRegistry[WifiLanMedium, *wifiLanMediumContext]
	webrtcSignaling   map[string]OnSignalingMessageCallback
}

// Stats is a consistent snapshot of the environment's registries.
type Stats struct {
	BluetoothMediums    int
	WifiLanMediums      int
	SignalingMessengers int
	BluetoothAdapters   int
	PendingJobs         int
}

// Option configures an Environment at construction.
type Option func(*options)

type options struct {
	logger  core.Logger
	metrics core.Metrics
}

// WithLogger routes environment and executor logs through l.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics wires the internal executor's metrics (queue depth, task
// duration, rejections) to m.
func WithMetrics(m core.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

var (
	instance     *Environment
	instanceOnce sync.Once
)

// Instance returns the process-wide environment, lazily created on first
// access. It is intentionally never torn down: test callbacks may still fire
// after a partially-destructed test, and a live environment keeps that from
// becoming a shutdown-order hazard. Tests that need isolation should prefer
// an owned instance from New.
func Instance() *Environment {
	instanceOnce.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an explicitly owned environment. The enabled gate starts ON;
// notification dispatch starts OFF until Sync(true) is called.
func New(opts ...Option) *Environment {
	o := &options{
		logger:  core.NewNoOpLogger(),
		metrics: &core.NilMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}

	env := &Environment{
		logger:            o.logger,
		bluetoothAdapters: make(map[BluetoothAdapter]BluetoothDevice),
		bluetoothMediums:  newIdentityRegistry[BluetoothMedium, *bluetoothMediumContext](),
		wifiLanMediums:    newIdentityRegistry[WifiLanMedium, *wifiLanMediumContext](),
		webrtcSignaling:   make(map[string]OnSignalingMessageCallback),
	}
	env.enabled.Store(true)
	env.executor = core.NewSingleThreadExecutorWithConfig("medium-environment", &core.RunnerConfig{
		Metrics: o.metrics,
		Logger:  o.logger,
	})
	return env
}

// =============================================================================
// Lifecycle and synchronization
// =============================================================================

// Start enables the environment. While disabled, registration, update,
// unregister and state-change calls are rejected silently.
func (env *Environment) Start() {
	env.postJob(func() {
		env.enabled.Store(true)
		env.logger.Debug("medium environment enabled")
	})
}

// Stop disables the environment.
func (env *Environment) Stop() {
	env.postJob(func() {
		env.enabled.Store(false)
		env.logger.Debug("medium environment disabled")
	})
}

// Reset synchronously clears every registry and the pending-job counter.
// No callback fires: registration targets may already be destructing when a
// test resets the environment. The enabled and notification gates keep their
// current values.
func (env *Environment) Reset() {
	done := make(chan struct{})
	accepted := env.executor.Execute(func(ctx context.Context) {
		env.bluetoothAdapters = make(map[BluetoothAdapter]BluetoothDevice)
		env.bluetoothMediums.clear()
		env.wifiLanMediums.clear()
		env.webrtcSignaling = make(map[string]OnSignalingMessageCallback)
		env.jobCount.Store(0)
		env.logger.Debug("medium environment reset")
		close(done)
	})
	if !accepted {
		return
	}
	<-done
}

// Sync waits for all jobs scheduled strictly before this call to finish.
//
// It first schedules a job that sets the notification gate, ordered after
// everything already queued, then appends one more barrier job and blocks
// until that specific job completes. Because the executor is strictly FIFO
// and single-threaded, completion of the barrier proves every earlier job has
// finished. Jobs scheduled concurrently with or after the call are explicitly
// not waited on, which keeps Sync terminating under continuous background
// activity.
//
// With enableNotifications true, future state changes are dispatched to every
// registered peer. With false, future notifications are suppressed while
// registry mutation still proceeds; useful for protocol shutdown where a
// late notification could reach a target whose lifetime has ended.
func (env *Environment) Sync(enableNotifications bool) {
	env.postJob(func() {
		env.enableNotifications.Store(enableNotifications)
	})
	_ = env.executor.WaitIdle(context.Background())
}

// IsEnabled reports the enabled gate.
func (env *Environment) IsEnabled() bool {
	return env.enabled.Load()
}

// PendingJobCount reports jobs scheduled but not yet completed on the
// internal executor.
func (env *Environment) PendingJobCount() int {
	return int(env.jobCount.Load())
}

// GetStats returns a consistent snapshot taken on the executor thread.
func (env *Environment) GetStats() Stats {
	var stats Stats
	done := make(chan struct{})
	accepted := env.executor.Execute(func(ctx context.Context) {
		stats = Stats{
			BluetoothMediums:    env.bluetoothMediums.size(),
			WifiLanMediums:      env.wifiLanMediums.size(),
			SignalingMessengers: len(env.webrtcSignaling),
			BluetoothAdapters:   len(env.bluetoothAdapters),
		}
		close(done)
	})
	if !accepted {
		return stats
	}
	<-done
	stats.PendingJobs = int(env.jobCount.Load())
	return stats
}

// postJob schedules work on the environment thread, tracking it in the
// pending-job counter.
func (env *Environment) postJob(job func()) {
	env.jobCount.Add(1)
	accepted := env.executor.Execute(func(ctx context.Context) {
		defer env.finishJob()
		job()
	})
	if !accepted {
		env.finishJob()
	}
}

// finishJob decrements the counter, flooring at zero: Reset zeroes the
// counter on the executor thread and jobs posted concurrently with it may
// otherwise drive it negative.
func (env *Environment) finishJob() {
	if env.jobCount.Add(-1) < 0 {
		env.jobCount.Store(0)
	}
}

// =============================================================================
// Bluetooth Classic
// =============================================================================

// RegisterBluetoothMedium adds medium-related info to allow for adapter
// discovery to work, keyed by the medium's identity. Registering an already
// registered medium replaces its context.
func (env *Environment) RegisterBluetoothMedium(medium BluetoothMedium, mediumAdapter BluetoothAdapter) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.bluetoothMediums.put(medium, &bluetoothMediumContext{
			adapter: mediumAdapter,
			devices: make(map[BluetoothDevice]string),
		})
		env.logger.Debug("registered bluetooth medium",
			core.F("mediums", env.bluetoothMediums.size()))
	})
}

// UpdateBluetoothMedium fully replaces the stored discovery callback for
// medium: last write wins, single subscriber per medium instance. Call with
// the user callback when discovery is enabled and with the zero callback
// otherwise.
func (env *Environment) UpdateBluetoothMedium(medium BluetoothMedium, callback BluetoothDiscoveryCallback) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		info, ok := env.bluetoothMediums.get(medium)
		if !ok {
			return
		}
		info.callback = callback
	})
}

// UnregisterBluetoothMedium removes medium-related info. This should
// correspond to device power off. Unregistering an unknown medium is a no-op.
func (env *Environment) UnregisterBluetoothMedium(medium BluetoothMedium) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.bluetoothMediums.remove(medium)
		env.logger.Debug("unregistered bluetooth medium",
			core.F("mediums", env.bluetoothMediums.size()))
	})
}

// OnBluetoothAdapterChangedState records the adapter's device and notifies
// every other registered Bluetooth medium of the state change, when
// notifications are enabled. Repeated identical notifications are idempotent:
// each context records the last-known name per device.
func (env *Environment) OnBluetoothAdapterChangedState(adapter BluetoothAdapter, adapterDevice BluetoothDevice, name string, enabled bool, mode ScanMode) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.bluetoothAdapters[adapter] = adapterDevice
		if !env.enableNotifications.Load() {
			return
		}
		env.bluetoothMediums.forEach(func(_ BluetoothMedium, info *bluetoothMediumContext) {
			// Do not send notification to the medium that owns the adapter.
			if info.adapter == adapter {
				return
			}
			env.onBluetoothDeviceStateChanged(info, adapterDevice, name, mode, enabled)
		})
	})
}

// onBluetoothDeviceStateChanged derives the discovered / name-changed / lost
// transition for one observing context. Runs on the executor thread.
func (env *Environment) onBluetoothDeviceStateChanged(info *bluetoothMediumContext, device BluetoothDevice, name string, mode ScanMode, enabled bool) {
	oldName, seen := info.devices[device]
	discoverable := enabled && mode == ScanModeConnectableDiscoverable

	if !seen {
		// Never seen before: only a discoverable, powered-on device shows up.
		if !discoverable {
			return
		}
		info.devices[device] = name
		if cb := info.callback.DeviceDiscovered; cb != nil {
			cb(device)
		}
		return
	}

	if !enabled {
		delete(info.devices, device)
		if cb := info.callback.DeviceLost; cb != nil {
			cb(device)
		}
		return
	}

	if oldName != name {
		info.devices[device] = name
		if cb := info.callback.DeviceNameChanged; cb != nil {
			cb(device)
		}
	}
}

// =============================================================================
// WiFi LAN
// =============================================================================

// RegisterWifiLanMedium adds medium-related info to allow for
// discovery/advertising to work.
func (env *Environment) RegisterWifiLanMedium(medium WifiLanMedium, service WifiLanService) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.wifiLanMediums.put(medium, &wifiLanMediumContext{
			service: service,
		})
		env.logger.Debug("registered wifi lan medium",
			core.F("mediums", env.wifiLanMediums.size()))
	})
}

// UpdateWifiLanMediumForAdvertising toggles the medium's advertising flag and,
// when notifications are enabled, reports the transition to every other
// medium that is currently discovering.
func (env *Environment) UpdateWifiLanMediumForAdvertising(medium WifiLanMedium, service WifiLanService, serviceID string, enabled bool) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		info, ok := env.wifiLanMediums.get(medium)
		if !ok {
			return
		}
		info.service = service
		info.serviceID = serviceID
		info.advertising = enabled
		if !env.enableNotifications.Load() {
			return
		}
		env.wifiLanMediums.forEach(func(_ WifiLanMedium, other *wifiLanMediumContext) {
			if other == info {
				return
			}
			env.onWifiLanServiceStateChanged(other, service, serviceID, enabled)
		})
	})
}

// UpdateWifiLanMediumForDiscovery stores the discovery callback for medium
// (replacing any previous one) and records whether discovery is enabled.
// A medium that starts discovering while peers are already advertising gets
// those peers reported immediately.
func (env *Environment) UpdateWifiLanMediumForDiscovery(medium WifiLanMedium, service WifiLanService, serviceID string, callback WifiLanDiscoveredServiceCallback, enabled bool) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		info, ok := env.wifiLanMediums.get(medium)
		if !ok {
			return
		}
		info.service = service
		info.discoveryCallback = callback
		info.discoveryEnabled = enabled
		env.logger.Debug("updated wifi lan discovery",
			core.F("service_id", serviceID), core.F("enabled", enabled))
		if !enabled || !env.enableNotifications.Load() {
			return
		}
		// Catch up on peers that were advertising before discovery started.
		env.wifiLanMediums.forEach(func(_ WifiLanMedium, other *wifiLanMediumContext) {
			if other == info || !other.advertising {
				return
			}
			if cb := info.discoveryCallback.ServiceDiscovered; cb != nil {
				cb(other.service, other.serviceID)
			}
		})
	})
}

// UpdateWifiLanMediumForAcceptedConnection stores the accepted-connection
// callback for medium, replacing any previous one.
func (env *Environment) UpdateWifiLanMediumForAcceptedConnection(medium WifiLanMedium, service WifiLanService, serviceID string, callback WifiLanAcceptedConnectionCallback) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		info, ok := env.wifiLanMediums.get(medium)
		if !ok {
			return
		}
		info.service = service
		info.acceptedCallback = callback
	})
}

// UnregisterWifiLanMedium removes medium-related info. This should correspond
// to device power off.
func (env *Environment) UnregisterWifiLanMedium(medium WifiLanMedium) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.wifiLanMediums.remove(medium)
		env.logger.Debug("unregistered wifi lan medium",
			core.F("mediums", env.wifiLanMediums.size()))
	})
}

// CallWifiLanAcceptedConnectionCallback invokes (directly, not broadcast) the
// accepted-connection callback stored for that one medium. Used when
// advertising has created the server socket and it is ready for connect.
func (env *Environment) CallWifiLanAcceptedConnectionCallback(medium WifiLanMedium, socket WifiLanSocket, serviceID string) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		info, ok := env.wifiLanMediums.get(medium)
		if !ok {
			return
		}
		if cb := info.acceptedCallback.Accepted; cb != nil {
			cb(socket, serviceID)
		}
	})
}

// onWifiLanServiceStateChanged reports one advertising transition to a single
// discovering context. Runs on the executor thread.
func (env *Environment) onWifiLanServiceStateChanged(info *wifiLanMediumContext, service WifiLanService, serviceID string, enabled bool) {
	if !info.discoveryEnabled {
		return
	}
	if enabled {
		if cb := info.discoveryCallback.ServiceDiscovered; cb != nil {
			cb(service, serviceID)
		}
		return
	}
	if cb := info.discoveryCallback.ServiceLost; cb != nil {
		cb(service, serviceID)
	}
}

// =============================================================================
// WebRTC signaling
// =============================================================================

// RegisterWebRtcSignalingMessenger registers callback to receive messages
// sent to the device with id selfID. Last write wins.
func (env *Environment) RegisterWebRtcSignalingMessenger(selfID string, callback OnSignalingMessageCallback) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		env.webrtcSignaling[selfID] = callback
		env.logger.Debug("registered signaling messenger", core.F("self_id", selfID))
	})
}

// UnregisterWebRtcSignalingMessenger removes the callback listening to
// incoming messages for selfID.
func (env *Environment) UnregisterWebRtcSignalingMessenger(selfID string) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		delete(env.webrtcSignaling, selfID)
		env.logger.Debug("unregistered signaling messenger", core.F("self_id", selfID))
	})
}

// SendWebRtcSignalingMessage simulates sending a signaling message to the
// device with id peerID. An unknown peer, or suppressed notifications, drops
// the message silently: no delivery guarantee, no retry, no queuing for later
// delivery.
func (env *Environment) SendWebRtcSignalingMessage(peerID string, message []byte) {
	if !env.enabled.Load() {
		return
	}
	env.postJob(func() {
		callback, ok := env.webrtcSignaling[peerID]
		if !ok || callback == nil {
			env.logger.Debug("dropping signaling message, peer not registered",
				core.F("peer_id", peerID))
			return
		}
		if !env.enableNotifications.Load() {
			return
		}
		callback(message)
	})
}
