// Package peripheral adapts the underlying BLE stack into the small set of
// fallible operations the connection lifecycle machine drives. The real
// backend sits on tinygo-org/bluetooth; tests substitute mocks.
package peripheral

import (
	"context"
	"strings"
	"time"
)

// Button/LED profile UUIDs (Nordic LED Button Service layout). Fixed
// constants shared between this layer and the firmware.
const (
	ServiceUUID    = "00001523-1212-efde-1523-785feabcd123"
	ButtonCharUUID = "00001524-1212-efde-1523-785feabcd123"
	LEDCharUUID    = "00001525-1212-efde-1523-785feabcd123"
)

// Advertisement is an immutable snapshot of one advertisement packet.
// Later packets from the same device replace earlier ones wholesale.
type Advertisement struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	RSSI         int      `json:"rssi"`
	ServiceUUIDs []string `json:"service_uuids,omitempty"`
}

// Ops is the operation surface the lifecycle machine drives. Every call
// either succeeds or returns an *OpError. Long-running operations honor
// the backend's own timeout semantics; this layer only surfaces them.
type Ops interface {
	// RequestPermissionsAndAdapter verifies the process may use BLE and
	// that the adapter is powered. Called on every pass through init;
	// the adapter can be toggled externally at any time.
	RequestPermissionsAndAdapter() error

	// Scan advertises-listens for up to duration, raising discovered
	// devices on the event stream. Blocks until the scan ends or
	// StopScan is called. Returns an error only if the scan could not
	// run.
	Scan(serviceUUID string, duration time.Duration) error

	// StopScan stops a running scan. Stopping an already-stopped scan
	// is not an error.
	StopScan() error

	Connect(ctx context.Context, id string) error

	// DiscoverServices returns the UUIDs of services exposed by a
	// connected device.
	DiscoverServices(id string) ([]string, error)

	StartNotify(id, serviceUUID, charUUID string) error

	// StopNotify is idempotent; unsubscribing a dead link is not an error.
	StopNotify(id, serviceUUID, charUUID string) error

	Read(id, serviceUUID, charUUID string) ([]byte, error)
	Write(id, serviceUUID, charUUID string, value []byte) error

	// Disconnect tears down the link. Idempotent; errors from
	// disconnecting an already-disconnected device are swallowed.
	Disconnect(id string) error
}

// Events is the push side of the backend: raw peripheral events in the
// order the stack raised them. Each subscription returns an unsubscribe
// handle that must be invoked on teardown.
type Events interface {
	OnAdvertisement(func(Advertisement)) (unsubscribe func())
	OnValueChanged(func(charUUID string, value []byte)) (unsubscribe func())
	OnDisconnected(func(id string)) (unsubscribe func())
}

// Setup is the result of a successful connect+setup sequence.
type Setup struct {
	InitialButton bool
}

// ConnectAndSetup runs the full connection sequence as one logical unit:
// stop any scan, connect, discover services, verify the button/LED
// profile is present, subscribe to button notifications, read the
// initial button value. If any step fails the whole sequence is reported
// failed; no implicit disconnect is attempted — unwinding stays with the
// caller's failure handling.
func ConnectAndSetup(ctx context.Context, ops Ops, id string) (Setup, error) {
	ops.StopScan()

	if err := ops.Connect(ctx, id); err != nil {
		return Setup{}, err
	}

	services, err := ops.DiscoverServices(id)
	if err != nil {
		return Setup{}, err
	}
	if !containsUUID(services, ServiceUUID) {
		return Setup{}, Errf(CodeServiceNotFound, "discover-services",
			"device %s does not expose service %s", id, ServiceUUID)
	}

	if err := ops.StartNotify(id, ServiceUUID, ButtonCharUUID); err != nil {
		return Setup{}, err
	}

	value, err := ops.Read(id, ServiceUUID, ButtonCharUUID)
	if err != nil {
		return Setup{}, err
	}

	return Setup{InitialButton: ButtonPressed(value)}, nil
}

// ButtonPressed decodes the button characteristic payload: first byte
// nonzero means pressed.
func ButtonPressed(value []byte) bool {
	return len(value) > 0 && value[0] != 0
}

// LEDValue encodes the LED characteristic payload.
func LEDValue(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func containsUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if equalUUID(u, want) {
			return true
		}
	}
	return false
}

func equalUUID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
