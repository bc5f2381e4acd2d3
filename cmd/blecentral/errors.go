package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/device"
)

// Command-level errors
var (
	// ErrConnectFailed indicates the radio reported that a connection attempt failed
	ErrConnectFailed = errors.New("connection failed")
	// ErrConnectTimeout indicates no connection outcome arrived within --timeout
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrConnectionLost indicates the peripheral disconnected while the command held the link
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError appends a hint for errors the user can act on
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case device.IsRadioUnavailable(err):
		return fmt.Sprintf("%s (check that Bluetooth is turned on and this program may use it)", err)
	case errors.Is(err, device.ErrIndexOutOfRange):
		return fmt.Sprintf("%s (run 'blecentral scan' to list peripherals)", err)
	case errors.Is(err, device.ErrPersist):
		return fmt.Sprintf("%s (check store.path in the configuration)", err)
	case errors.Is(err, device.ErrNotBound):
		return fmt.Sprintf("%s (scan until the peripheral is discovered, then connect)", err)
	}
	return err.Error()
}
