package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

// Advertisement is the part of a ble.Advertisement the radio cares about
type Advertisement struct {
	Addr     ble.Addr
	Name     string
	RSSI     int
	Services []string // normalized service UUIDs
}

// newAdvertisement copies the fields used by the radio out of a ble.Advertisement
func newAdvertisement(adv ble.Advertisement) Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, svc := range adv.Services() {
		services = append(services, device.NormalizeUUID(svc.String()))
	}
	return Advertisement{
		Addr:     adv.Addr(),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: services,
	}
}

// HasAnyService reports whether the advertisement lists one of the wanted
// services. An empty filter matches every advertisement.
func (a Advertisement) HasAnyService(wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, s := range a.Services {
			if s == w {
				return true
			}
		}
	}
	return false
}

// parseServiceFilter validates and normalizes the service UUIDs of a scan request
func parseServiceFilter(services []string) ([]string, error) {
	result := make([]string, 0, len(services))
	for _, s := range services {
		if _, err := ble.Parse(s); err != nil {
			return nil, err
		}
		result = append(result, device.NormalizeUUID(s))
	}
	return result, nil
}
