// Package mediumsim provides a task scheduling core and a simulated
// multi-radio environment built on top of it.
//
// The core package implements a variable-width worker pool with immediate and
// time-delayed submission:
//
//	runner := core.NewThreadPoolTaskRunner(4)
//	defer runner.Shutdown()
//
//	runner.PostTask(func(ctx context.Context) {
//		// Your code here
//	})
//	runner.PostDelayedTask(time.Second, func(ctx context.Context) {
//		// Runs once the delay has elapsed
//	})
//
// A width-1 runner executes all eligible work strictly one at a time, in
// ascending order of eligibility time with ties broken by submission order.
// SingleThreadExecutor packages that guarantee as the serialization backbone
// for shared mutable state.
//
// The mediumenv package uses one SingleThreadExecutor to coordinate many
// simulated peer devices - Bluetooth Classic, WiFi LAN and WebRTC signaling -
// as if they were physical:
//
//	env := mediumenv.Instance()
//	env.RegisterBluetoothMedium(mediumA, adapterA)
//	env.RegisterBluetoothMedium(mediumB, adapterB)
//	env.Sync(true) // barrier; enables notification dispatch
//
//	env.OnBluetoothAdapterChangedState(adapterA, deviceA, "device-a",
//		true, mediumenv.ScanModeConnectableDiscoverable)
//
// Because one executor serializes all registry work, any two operations are
// totally ordered relative to each other, and Sync gives tests a barrier that
// terminates even while new work keeps arriving concurrently.
package mediumsim
