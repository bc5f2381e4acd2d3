package testutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// EventBuilder builds radio events for tests with a fluent API.
type EventBuilder struct {
	ev         device.Event
	identifier string
}

// NewEventBuilder starts a peripheral-found event
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{ev: device.Event{Kind: device.EventPeripheralFound, RSSI: -50}}
}

func (b *EventBuilder) WithKind(kind device.EventKind) *EventBuilder {
	b.ev.Kind = kind
	return b
}

// WithIdentifier sets the identifier; a Handle is created for it on Build
// unless WithHandle supplies one.
func (b *EventBuilder) WithIdentifier(id string) *EventBuilder {
	b.identifier = id
	return b
}

func (b *EventBuilder) WithHandle(h device.Handle) *EventBuilder {
	b.ev.Handle = h
	if h != nil {
		b.identifier = h.Identifier()
	}
	return b
}

func (b *EventBuilder) WithName(name string) *EventBuilder {
	b.ev.Name = name
	return b
}

func (b *EventBuilder) WithRSSI(rssi int) *EventBuilder {
	b.ev.RSSI = rssi
	return b
}

func (b *EventBuilder) WithError(err error) *EventBuilder {
	b.ev.Err = err
	return b
}

func (b *EventBuilder) WithPowerState(state device.PowerState) *EventBuilder {
	b.ev.Kind = device.EventPowerStateChanged
	b.ev.PowerState = state
	return b
}

func (b *EventBuilder) WithTimestamp(ts time.Time) *EventBuilder {
	b.ev.Timestamp = ts
	return b
}

// Identifier returns the identifier set so far
func (b *EventBuilder) Identifier() string {
	return b.identifier
}

// FromJSON fills builder fields from a JSON string with format support.
// Recognized keys: kind, identifier, name, rssi, error, power.
// Panics on invalid input as this is intended for test data setup.
func (b *EventBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *EventBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Kind       *string `json:"kind"`
		Identifier *string `json:"identifier"`
		Name       *string `json:"name"`
		RSSI       *int    `json:"rssi"`
		Error      *string `json:"error"`
		Power      *string `json:"power"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Kind != nil {
		kind, err := device.ParseEventKind(*data.Kind)
		if err != nil {
			panic(fmt.Sprintf("FromJSON: %v", err))
		}
		b.WithKind(kind)
	}
	if data.Identifier != nil {
		b.WithIdentifier(*data.Identifier)
	}
	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Error != nil {
		b.WithError(errors.New(*data.Error))
	}
	if data.Power != nil {
		state, err := device.ParsePowerState(*data.Power)
		if err != nil {
			panic(fmt.Sprintf("FromJSON: %v", err))
		}
		b.WithPowerState(state)
	}
	return b
}

// Build returns the event
func (b *EventBuilder) Build() device.Event {
	ev := b.ev
	if ev.Handle == nil && b.identifier != "" && ev.Kind != device.EventPowerStateChanged {
		ev.Handle = &Handle{ID: b.identifier}
	}
	return ev
}
