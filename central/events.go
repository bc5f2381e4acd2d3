package central

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/registry"
)

// handleEvents applies every queued radio event in arrival order
func (c *Coordinator) handleEvents() {
	for _, ev := range c.inbox.Drain() {
		c.handleEvent(ev)
	}
}

func (c *Coordinator) handleEvent(ev device.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch ev.Kind {
	case device.EventPowerStateChanged:
		c.onPowerStateChanged(ev)
	case device.EventPeripheralFound:
		c.onPeripheralFound(ev)
	case device.EventConnected:
		c.onConnected(ev)
	case device.EventDisconnected:
		c.onDisconnected(ev)
	case device.EventConnectFailed:
		c.onConnectFailed(ev)
	case device.EventScanStopped:
		c.onScanStopped(ev)
	default:
		c.logger.WithField("event", ev.Kind).Warn("Ignoring unknown radio event")
	}
}

func (c *Coordinator) onPowerStateChanged(ev device.Event) {
	previous := c.power
	c.power = ev.PowerState

	c.logger.WithFields(logrus.Fields{
		"from": previous,
		"to":   ev.PowerState,
	}).Info("Radio power state changed")

	if ev.PowerState != device.PoweredOn {
		c.scanning = false

		// The radio drops every link when it goes away
		for idx, rec := range c.registry.Records() {
			switch rec.State {
			case device.Connecting, device.Connected, device.Disconnecting:
			default:
				continue
			}
			updated, err := c.registry.Update(rec.Identifier, func(r *registry.Record) {
				r.State = device.Disconnected
			})
			if err != nil {
				continue
			}
			c.notify(device.Event{
				Kind:       device.EventDisconnected,
				Handle:     rec.Handle,
				Err:        &device.RadioError{State: ev.PowerState},
				PowerState: ev.PowerState,
				Timestamp:  ev.Timestamp,
			}, idx, updated)
		}
	}

	c.notify(ev, -1, registry.Record{})
}

func (c *Coordinator) onPeripheralFound(ev device.Event) {
	if ev.Handle == nil {
		c.logger.Warn("Ignoring discovery without a peripheral handle")
		return
	}
	id := device.NormalizeIdentifier(ev.Handle.Identifier())

	if !c.matcher.IsKnown(ev.Name, id) {
		c.logger.WithFields(logrus.Fields{
			"identifier": id,
			"name":       ev.Name,
		}).Debug("Ignoring unknown peripheral")
		return
	}

	_, idx, ok := c.registry.FindByIdentifier(id)
	var (
		rec registry.Record
		err error
	)
	if ok {
		rec, err = c.registry.Update(id, func(r *registry.Record) {
			if ev.Name != "" {
				r.Name = ev.Name
			}
			r.Handle = ev.Handle
			r.RSSI = ev.RSSI
			r.LastSeen = ev.Timestamp
			if r.State == device.Disconnected {
				r.State = device.Discovered
			}
		})
		if err != nil {
			c.logger.WithError(err).WithField("identifier", id).Error("Failed to update discovered peripheral")
			return
		}
		c.logger.WithFields(logrus.Fields{
			"index":      idx,
			"identifier": id,
			"rssi":       ev.RSSI,
		}).Debug("Updated known peripheral")
	} else {
		rec = registry.Record{
			Identifier: id,
			Name:       ev.Name,
			State:      device.Discovered,
			Handle:     ev.Handle,
			RSSI:       ev.RSSI,
			LastSeen:   ev.Timestamp,
		}
		if err = c.registry.Add(rec); err != nil {
			c.logger.WithError(err).WithField("identifier", id).Error("Failed to add discovered peripheral")
			return
		}
		idx = c.registry.Count() - 1
		c.logger.WithFields(logrus.Fields{
			"index":      idx,
			"identifier": id,
			"name":       ev.Name,
			"rssi":       ev.RSSI,
		}).Info("Discovered peripheral")
	}

	c.notify(ev, idx, rec)
}

func (c *Coordinator) onConnected(ev device.Event) {
	rec, idx, ok := c.resolve(ev.Handle)
	if !ok {
		c.logger.WithField("identifier", handleID(ev.Handle)).Debug("Ignoring connection of unmanaged peripheral")
		return
	}
	if rec.State != device.Connecting {
		c.logger.WithFields(logrus.Fields{
			"identifier": rec.Identifier,
			"state":      rec.State,
		}).Warn("Ignoring connection report for peripheral that is not connecting")
		return
	}

	rec, err := c.registry.Update(rec.Identifier, func(r *registry.Record) {
		r.State = device.Connected
	})
	if err != nil {
		return
	}

	c.logger.WithFields(logrus.Fields{
		"index":      idx,
		"identifier": rec.Identifier,
	}).Info("Peripheral connected")
	c.notify(ev, idx, rec)
}

func (c *Coordinator) onDisconnected(ev device.Event) {
	rec, idx, ok := c.resolve(ev.Handle)
	if !ok {
		c.logger.WithField("identifier", handleID(ev.Handle)).Debug("Ignoring disconnection of unmanaged peripheral")
		return
	}

	rec, err := c.registry.Update(rec.Identifier, func(r *registry.Record) {
		r.State = device.Disconnected
	})
	if err != nil {
		return
	}

	entry := c.logger.WithFields(logrus.Fields{
		"index":      idx,
		"identifier": rec.Identifier,
	})
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	entry.Info("Peripheral disconnected")
	c.notify(ev, idx, rec)
}

func (c *Coordinator) onConnectFailed(ev device.Event) {
	rec, idx, ok := c.resolve(ev.Handle)
	if !ok {
		c.logger.WithField("identifier", handleID(ev.Handle)).Debug("Ignoring connection failure of unmanaged peripheral")
		return
	}
	if rec.State != device.Connecting {
		c.logger.WithFields(logrus.Fields{
			"identifier": rec.Identifier,
			"state":      rec.State,
		}).Warn("Ignoring connection failure for peripheral that is not connecting")
		return
	}

	rec, err := c.registry.Update(rec.Identifier, func(r *registry.Record) {
		r.State = device.Disconnected
	})
	if err != nil {
		return
	}

	c.logger.WithFields(logrus.Fields{
		"index":      idx,
		"identifier": rec.Identifier,
		"error":      ev.Err,
	}).Warn("Failed to connect to peripheral")
	c.notify(ev, idx, rec)
}

// onScanStopped clears the scanning flag when the radio ends a scan on its own,
// so the next StartScan reaches the radio again
func (c *Coordinator) onScanStopped(ev device.Event) {
	if !c.scanning {
		return
	}
	c.scanning = false

	entry := c.logger.WithField("event", ev.Kind)
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	entry.Warn("Radio stopped scanning")
	c.notify(ev, -1, registry.Record{})
}

// resolve finds the record for a radio handle, falling back to its identifier
// when the record was bound to a different handle instance.
func (c *Coordinator) resolve(h device.Handle) (registry.Record, int, bool) {
	if h == nil {
		return registry.Record{}, -1, false
	}
	if rec, idx, ok := c.registry.FindByHandle(h); ok {
		return rec, idx, true
	}
	return c.registry.FindByIdentifier(device.NormalizeIdentifier(h.Identifier()))
}

func (c *Coordinator) notify(ev device.Event, idx int, rec registry.Record) {
	c.outbox.Push(Notification{
		Event:      ev,
		Index:      idx,
		Identifier: rec.Identifier,
		Record:     rec,
	})
}

func handleID(h device.Handle) string {
	if h == nil {
		return ""
	}
	return h.Identifier()
}
