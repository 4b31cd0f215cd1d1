// Package simconfig loads YAML simulation scenarios for the mediumsim demo
// binary. A scenario declares the simulated devices to register and a script
// of timed events to replay against the medium environment.
package simconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Medium kinds accepted in a device declaration.
const (
	MediumBluetooth = "bluetooth"
	MediumWifiLan   = "wifi_lan"
	MediumWebRtc    = "webrtc"
)

// Event kinds accepted in the scenario script.
const (
	EventAdapterState = "adapter_state"
	EventAdvertise    = "advertise"
	EventDiscover     = "discover"
	EventSendMessage  = "send_message"
)

// Duration wraps time.Duration so scenario files can use "250ms" style
// values. A bare integer is taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Scenario is a complete simulation script.
type Scenario struct {
	Name        string   `yaml:"name"`
	Workers     int      `yaml:"workers"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Duration    Duration `yaml:"duration"`
	Devices     []Device `yaml:"devices"`
	Events      []Event  `yaml:"events"`
}

// Device declares one simulated device to register before the script runs.
type Device struct {
	ID        string `yaml:"id"`
	Medium    string `yaml:"medium"`
	ServiceID string `yaml:"service_id"`
}

// Event is one timed action replayed against the environment.
type Event struct {
	After   Duration `yaml:"after"`
	Kind    string   `yaml:"kind"`
	Device  string   `yaml:"device"`
	Name    string   `yaml:"name"`
	Enabled *bool    `yaml:"enabled"`
	Peer    string   `yaml:"peer"`
	Message string   `yaml:"message"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	if s.Workers == 0 {
		s.Workers = 1
	}
	if s.Duration == 0 {
		s.Duration = Duration(2 * time.Second)
	}
}

func (s *Scenario) validate() error {
	if s.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("scenario declares no devices")
	}

	byID := make(map[string]Device, len(s.Devices))
	for i, d := range s.Devices {
		if d.ID == "" {
			return fmt.Errorf("device %d: id is required", i)
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("device %q declared twice", d.ID)
		}
		switch d.Medium {
		case MediumBluetooth, MediumWebRtc:
		case MediumWifiLan:
			if d.ServiceID == "" {
				return fmt.Errorf("device %q: wifi_lan devices need a service_id", d.ID)
			}
		default:
			return fmt.Errorf("device %q: unknown medium %q", d.ID, d.Medium)
		}
		byID[d.ID] = d
	}

	for i, e := range s.Events {
		if e.After < 0 {
			return fmt.Errorf("event %d: negative delay", i)
		}
		device, ok := byID[e.Device]
		if !ok {
			return fmt.Errorf("event %d: unknown device %q", i, e.Device)
		}
		switch e.Kind {
		case EventAdapterState:
			if device.Medium != MediumBluetooth {
				return fmt.Errorf("event %d: adapter_state targets non-bluetooth device %q", i, e.Device)
			}
		case EventAdvertise, EventDiscover:
			if device.Medium != MediumWifiLan {
				return fmt.Errorf("event %d: %s targets non-wifi_lan device %q", i, e.Kind, e.Device)
			}
		case EventSendMessage:
			if device.Medium != MediumWebRtc {
				return fmt.Errorf("event %d: send_message targets non-webrtc device %q", i, e.Device)
			}
			if e.Peer == "" {
				return fmt.Errorf("event %d: send_message needs a peer", i)
			}
		default:
			return fmt.Errorf("event %d: unknown kind %q", i, e.Kind)
		}
	}
	return nil
}
