package central

import (
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/registry"
)

// Notification is a radio event re-emitted after the registry has been updated
type Notification struct {
	Event device.Event
	// Index is the record's position at the time of the event, -1 if no record is involved
	Index      int
	Identifier string
	Record     registry.Record
}

// Observer receives coordinator notifications in event order.
// Callbacks run on the coordinator's dispatcher goroutine and may call back
// into the coordinator, Close included.
type Observer interface {
	OnPowerStateChanged(n Notification)
	OnFound(n Notification)
	OnConnected(n Notification)
	OnDisconnected(n Notification)
	OnFailed(n Notification)
	OnScanStopped(n Notification)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are ignored
type ObserverFuncs struct {
	PowerStateChanged func(Notification)
	Found             func(Notification)
	Connected         func(Notification)
	Disconnected      func(Notification)
	Failed            func(Notification)
	ScanStopped       func(Notification)
}

func (f ObserverFuncs) OnPowerStateChanged(n Notification) {
	if f.PowerStateChanged != nil {
		f.PowerStateChanged(n)
	}
}

func (f ObserverFuncs) OnFound(n Notification) {
	if f.Found != nil {
		f.Found(n)
	}
}

func (f ObserverFuncs) OnConnected(n Notification) {
	if f.Connected != nil {
		f.Connected(n)
	}
}

func (f ObserverFuncs) OnDisconnected(n Notification) {
	if f.Disconnected != nil {
		f.Disconnected(n)
	}
}

func (f ObserverFuncs) OnFailed(n Notification) {
	if f.Failed != nil {
		f.Failed(n)
	}
}

func (f ObserverFuncs) OnScanStopped(n Notification) {
	if f.ScanStopped != nil {
		f.ScanStopped(n)
	}
}

// deliver routes n to the callback matching its event kind
func deliver(o Observer, n Notification) {
	switch n.Event.Kind {
	case device.EventPowerStateChanged:
		o.OnPowerStateChanged(n)
	case device.EventPeripheralFound:
		o.OnFound(n)
	case device.EventConnected:
		o.OnConnected(n)
	case device.EventDisconnected:
		o.OnDisconnected(n)
	case device.EventConnectFailed:
		o.OnFailed(n)
	case device.EventScanStopped:
		o.OnScanStopped(n)
	}
}
