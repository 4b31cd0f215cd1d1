package mediumenv

// Opaque identities consumed by the environment. They are compared by
// reference identity only: callers must pass the same value (normally a
// pointer) for the lifetime of a registration. Payload fields travel through
// the environment unchanged.
type (
	// BluetoothAdapter identifies a simulated Bluetooth adapter.
	BluetoothAdapter interface{}

	// BluetoothDevice identifies a discoverable Bluetooth device.
	BluetoothDevice interface{}

	// BluetoothMedium identifies one live Bluetooth Classic medium instance.
	BluetoothMedium interface{}

	// WifiLanMedium identifies one live WiFi LAN medium instance.
	WifiLanMedium interface{}

	// WifiLanService identifies the service owned by a WiFi LAN medium.
	WifiLanService interface{}

	// WifiLanSocket identifies an accepted WiFi LAN connection.
	WifiLanSocket interface{}
)

// ScanMode mirrors the Bluetooth adapter scan mode. Passed through opaquely;
// the environment only checks for ScanModeConnectableDiscoverable when
// deciding whether a device is discoverable.
type ScanMode int

const (
	ScanModeUnknown ScanMode = iota
	ScanModeNone
	ScanModeConnectable
	ScanModeConnectableDiscoverable
)

// BluetoothDiscoveryCallback receives simulated Bluetooth Classic discovery
// events. Individual funcs may be nil.
type BluetoothDiscoveryCallback struct {
	DeviceDiscovered  func(device BluetoothDevice)
	DeviceNameChanged func(device BluetoothDevice)
	DeviceLost        func(device BluetoothDevice)
}

// WifiLanDiscoveredServiceCallback receives simulated WiFi LAN service
// discovery events. Individual funcs may be nil.
type WifiLanDiscoveredServiceCallback struct {
	ServiceDiscovered func(service WifiLanService, serviceID string)
	ServiceLost       func(service WifiLanService, serviceID string)
}

// WifiLanAcceptedConnectionCallback is invoked when advertising has created
// the server socket and it is ready for connect.
type WifiLanAcceptedConnectionCallback struct {
	Accepted func(socket WifiLanSocket, serviceID string)
}

// OnSignalingMessageCallback receives a WebRTC signaling message payload.
type OnSignalingMessageCallback func(message []byte)

// bluetoothMediumContext is the per-instance state of a registered Bluetooth
// medium. One context per live instance.
type bluetoothMediumContext struct {
	callback BluetoothDiscoveryCallback
	adapter  BluetoothAdapter
	// discovered device vs last-known device name; makes repeated identical
	// notifications idempotent.
	devices map[BluetoothDevice]string
}

// wifiLanMediumContext is the per-instance state of a registered WiFi LAN
// medium.
type wifiLanMediumContext struct {
	discoveryCallback WifiLanDiscoveredServiceCallback
	acceptedCallback  WifiLanAcceptedConnectionCallback
	service           WifiLanService
	serviceID         string
	advertising       bool
	discoveryEnabled  bool
}
