package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Central is the subset of a go-ble device used by the radio
type Central interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, addr ble.Addr) (Link, error)
}

// Link is a live connection to a peripheral
type Link interface {
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// DeviceFactory creates Central instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (Central, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleCentral{dev: dev}, nil
}

// bleCentral wraps ble.Device to implement the Central interface
type bleCentral struct {
	dev ble.Device
}

// Scan converts each ble.Advertisement before handing it to handler
func (c *bleCentral) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	return c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(newAdvertisement(adv))
	})
}

func (c *bleCentral) Dial(ctx context.Context, addr ble.Addr) (Link, error) {
	client, err := c.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}
