package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blecentral/internal/device"
)

// NormalizeError maps known go-ble error strings to structured device errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %w", &device.RadioError{State: device.PoweredOff}, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %w", &device.RadioError{State: device.PoweredOff}, err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %w", &device.RadioError{State: device.PoweredOff}, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %w", &device.RadioError{State: device.PowerUnauthorized}, err)
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %w", &device.RadioError{State: device.PowerUnsupported}, err)
	default:
		return err
	}
}

// powerStateOf extracts the power state carried by a normalized error
func powerStateOf(err error) (device.PowerState, bool) {
	var rerr *device.RadioError
	if !errors.As(err, &rerr) {
		return device.PowerUnknown, false
	}
	return rerr.State, true
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
