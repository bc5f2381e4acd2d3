// Package devicefactory builds the production radio. Commands go through it
// so tests can substitute a mock radio.
package devicefactory

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	goble "github.com/srg/blecentral/internal/device/go-ble"
)

// RadioOptions configures the production radio
type RadioOptions struct {
	ConnectTimeout time.Duration
}

// RadioFactory creates the device.Radio used by the CLI.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(opts RadioOptions, logger *logrus.Logger) (device.Radio, error) {
	return goble.NewRadio(&goble.Options{ConnectTimeout: opts.ConnectTimeout}, logger), nil
}

// NewRadio creates a radio through RadioFactory
func NewRadio(opts RadioOptions, logger *logrus.Logger) (device.Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return RadioFactory(opts, logger)
}
