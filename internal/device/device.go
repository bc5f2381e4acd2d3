package device

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionState is the lifecycle state of a managed peripheral
type ConnectionState int

const (
	Discovered ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	Disconnected
)

var connectionStateNames = [...]string{
	Discovered:    "discovered",
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnecting: "disconnecting",
	Disconnected:  "disconnected",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return connectionStateNames[s]
}

// MarshalText renders the state by name for JSON and YAML output
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseConnectionState converts a state name back to a ConnectionState.
func ParseConnectionState(name string) (ConnectionState, error) {
	for i, n := range connectionStateNames {
		if strings.EqualFold(n, name) {
			return ConnectionState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown connection state %q", name)
}

// PowerState mirrors the central manager states reported by the platform stack
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PoweredOff
	PoweredOn
)

func (p PowerState) String() string {
	switch p {
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

func (p PowerState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePowerState converts the String form back to a PowerState
func ParsePowerState(name string) (PowerState, error) {
	for p := PowerUnknown; p <= PoweredOn; p++ {
		if strings.EqualFold(p.String(), name) {
			return p, nil
		}
	}
	return PowerUnknown, fmt.Errorf("unknown power state %q", name)
}

// Handle is an opaque reference to a platform peripheral object.
// Handles are owned by the Radio; implementations must use comparable
// (pointer) types so the same peripheral always yields an equal handle.
type Handle interface {
	Identifier() string
}

// NormalizeIdentifier returns the canonical form of a peripheral identifier:
// surrounding whitespace removed and letters lowercased. Hardware addresses and
// platform UUIDs compare case-insensitively, so every layer keys records by
// this form.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// EventKind tells which radio callback produced an Event
type EventKind int

const (
	EventPowerStateChanged EventKind = iota
	EventPeripheralFound
	EventConnected
	EventDisconnected
	EventConnectFailed
	// EventScanStopped reports a scan that ended without a StopScan request
	EventScanStopped
)

func (k EventKind) String() string {
	switch k {
	case EventPowerStateChanged:
		return "power_state_changed"
	case EventPeripheralFound:
		return "peripheral_found"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventScanStopped:
		return "scan_stopped"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseEventKind accepts the String form of a kind plus the short aliases
// "power", "found", "failed" and "stopped".
func ParseEventKind(name string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "power", "power_state_changed":
		return EventPowerStateChanged, nil
	case "found", "peripheral_found":
		return EventPeripheralFound, nil
	case "connected":
		return EventConnected, nil
	case "disconnected":
		return EventDisconnected, nil
	case "failed", "connect_failed":
		return EventConnectFailed, nil
	case "stopped", "scan_stopped":
		return EventScanStopped, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

// Event is a single asynchronous notification from a Radio.
// Handle is nil for EventPowerStateChanged and EventScanStopped; Err carries
// the disconnect, failure or scan error when the platform reports one.
type Event struct {
	Kind       EventKind
	Handle     Handle
	Name       string
	RSSI       int
	Err        error
	PowerState PowerState
	Timestamp  time.Time
}

// EventHandler receives radio events. It is called from radio goroutines and
// must not block.
type EventHandler func(Event)

// ScanOptions customize a scan request
type ScanOptions struct {
	// AllowDuplicates reports every advertisement instead of one per peripheral
	AllowDuplicates bool
}

// Radio is the central-role capability the coordinator drives.
//
// All request methods are fire-and-forget: they return once the request has
// been handed to the platform, and the outcome arrives later through the
// EventHandler registered with Open.
type Radio interface {
	Open(handler EventHandler) error
	Close() error
	PowerState() PowerState

	StartScan(services []string, opts ScanOptions) error
	StopScan() error

	Connect(h Handle) error
	Disconnect(h Handle) error

	// Retrieve returns handles for previously seen peripherals without scanning.
	// Identifiers the platform does not know are skipped.
	Retrieve(identifiers ...string) ([]Handle, error)
}
