package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/devicefactory"
	"github.com/srg/blecentral/internal/store"
	"github.com/srg/blecentral/pkg/config"
)

// powerOnTimeout bounds how long a command waits for the radio to power on.
// This is a variable so that it can be overridden in tests.
var powerOnTimeout = 5 * time.Second

// session is a started coordinator together with what it was built from
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  store.Store
	coord  *central.Coordinator
}

// sessionOptions are command-line overrides applied on top of the configuration
type sessionOptions struct {
	names     []string
	services  []string
	acceptAll bool
}

// openSession builds the coordinator from the configuration, opens the radio
// and waits until it reports PoweredOn.
func openSession(ctx context.Context, cmd *cobra.Command, so sessionOptions) (*session, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	st, err := cfg.NewStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open peripheral store: %w", err)
	}
	s := &session{cfg: cfg, logger: logger, store: st}

	opts, err := cfg.CoordinatorOptions(st, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	opts.KnownNames = append(opts.KnownNames, so.names...)
	if len(so.services) > 0 {
		opts.ScanServices = so.services
	}
	if so.acceptAll {
		opts.Matcher.AcceptAllWhenEmpty = true
	}

	radio, err := devicefactory.NewRadio(devicefactory.RadioOptions{ConnectTimeout: cfg.ConnectTimeout}, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create BLE radio: %w", err)
	}

	s.coord, err = central.New(radio, opts)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Registered before Start so the first power report cannot be missed
	power := make(chan device.PowerState, 8)
	remove := s.coord.AddObserver(central.ObserverFuncs{
		PowerStateChanged: func(n central.Notification) {
			select {
			case power <- n.Event.PowerState:
			default:
			}
		},
	})
	defer remove()

	// Results are rendered after an interrupt, so only Close stops the coordinator
	if err := s.coord.Start(context.WithoutCancel(ctx)); err != nil {
		s.Close()
		return nil, err
	}
	if err := waitPoweredOn(ctx, power, powerOnTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// waitPoweredOn blocks until the radio powers on. Resetting and unknown
// states are transient; any other state fails immediately.
func waitPoweredOn(ctx context.Context, power <-chan device.PowerState, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	last := device.PowerUnknown
	for {
		select {
		case state := <-power:
			last = state
			switch state {
			case device.PoweredOn:
				return nil
			case device.PowerUnknown, device.PowerResetting:
			default:
				return &device.RadioError{State: state}
			}
		case <-timer.C:
			return fmt.Errorf("timed out waiting for radio: %w", &device.RadioError{State: last})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the coordinator and the store
func (s *session) Close() {
	if s.coord != nil {
		if err := s.coord.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close radio")
		}
	}
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close peripheral store")
		}
	}
}
