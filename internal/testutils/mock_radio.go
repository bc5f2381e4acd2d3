package testutils

import (
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/internal/device"
)

// Handle is the peripheral handle issued by MockRadio
type Handle struct {
	ID string
}

func (h *Handle) Identifier() string { return h.ID }

func (h *Handle) String() string { return h.ID }

// MockRadio is a testify mock of device.Radio.
//
// Every request method goes through mock.Called, so tests either register
// expectations with On or call Permissive to accept everything. Events are
// pushed to the registered handler synchronously with Emit and the helpers
// built on it.
//
//	radio := testutils.NewMockRadio()
//	radio.On("Connect", mock.Anything).Return(errors.New("busy")).Once()
//	radio.Permissive()
//	...
//	radio.PowerOn()
//	radio.Found("u1", "SensorA", -40)
type MockRadio struct {
	mock.Mock

	mu          sync.Mutex
	handler     device.EventHandler
	power       device.PowerState
	handles     map[string]*Handle
	onOpen      []device.Event
	onScan      []device.Event
	autoConnect bool
}

var _ device.Radio = (*MockRadio)(nil)

func NewMockRadio() *MockRadio {
	return &MockRadio{handles: make(map[string]*Handle)}
}

// Permissive registers catch-all expectations that succeed. Expectations
// registered before it take precedence.
func (r *MockRadio) Permissive() *MockRadio {
	r.On("Open", mock.Anything).Return(nil).Maybe()
	r.On("Close").Return(nil).Maybe()
	r.On("StartScan", mock.Anything, mock.Anything).Return(nil).Maybe()
	r.On("StopScan").Return(nil).Maybe()
	r.On("Connect", mock.Anything).Return(nil).Maybe()
	r.On("Disconnect", mock.Anything).Return(nil).Maybe()
	r.On("Retrieve", mock.Anything).Return(nil, nil).Maybe()
	return r
}

func (r *MockRadio) Open(handler device.EventHandler) error {
	args := r.Called(handler)
	if err := args.Error(0); err != nil {
		return err
	}
	r.mu.Lock()
	r.handler = handler
	script := r.onOpen
	r.mu.Unlock()

	for _, ev := range script {
		_ = r.Emit(ev)
	}
	return nil
}

func (r *MockRadio) Close() error {
	args := r.Called()
	r.mu.Lock()
	r.handler = nil
	r.mu.Unlock()
	return args.Error(0)
}

func (r *MockRadio) PowerState() device.PowerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

func (r *MockRadio) StartScan(services []string, opts device.ScanOptions) error {
	if err := r.Called(services, opts).Error(0); err != nil {
		return err
	}

	r.mu.Lock()
	script := r.onScan
	r.mu.Unlock()
	for _, ev := range script {
		_ = r.Emit(ev)
	}
	return nil
}

func (r *MockRadio) StopScan() error {
	return r.Called().Error(0)
}

func (r *MockRadio) Connect(h device.Handle) error {
	if err := r.Called(h).Error(0); err != nil {
		return err
	}
	if r.isAutoConnect() {
		return r.Emit(device.Event{Kind: device.EventConnected, Handle: h})
	}
	return nil
}

func (r *MockRadio) Disconnect(h device.Handle) error {
	if err := r.Called(h).Error(0); err != nil {
		return err
	}
	if r.isAutoConnect() {
		return r.Emit(device.Event{Kind: device.EventDisconnected, Handle: h})
	}
	return nil
}

// EmitOnOpen queues events emitted synchronously by every successful Open
func (r *MockRadio) EmitOnOpen(events ...device.Event) *MockRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpen = append(r.onOpen, events...)
	return r
}

// EmitOnScan queues events emitted synchronously by every successful StartScan
func (r *MockRadio) EmitOnScan(events ...device.Event) *MockRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onScan = append(r.onScan, events...)
	return r
}

// AutoConnect makes accepted Connect and Disconnect requests complete at once
func (r *MockRadio) AutoConnect() *MockRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoConnect = true
	return r
}

func (r *MockRadio) isAutoConnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoConnect
}

// Retrieve returns the configured handles. A nil result with no error
// resolves every identifier to this radio's own handle.
func (r *MockRadio) Retrieve(identifiers ...string) ([]device.Handle, error) {
	args := r.Called(identifiers)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if handles, ok := args.Get(0).([]device.Handle); ok {
		return handles, nil
	}

	var out []device.Handle
	for _, id := range identifiers {
		if device.NormalizeIdentifier(id) == "" {
			continue
		}
		out = append(out, r.Handle(id))
	}
	return out, nil
}

// Handle returns the radio's handle for id, creating it on first use.
// Identifiers are canonicalized with device.NormalizeIdentifier.
func (r *MockRadio) Handle(id string) *Handle {
	key := device.NormalizeIdentifier(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[key]; ok {
		return h
	}
	h := &Handle{ID: key}
	r.handles[key] = h
	return h
}

// Emit delivers ev to the handler registered with Open. It returns an error
// when the radio has not been opened.
func (r *MockRadio) Emit(ev device.Event) error {
	r.mu.Lock()
	handler := r.handler
	if ev.Kind == device.EventPowerStateChanged {
		r.power = ev.PowerState
	}
	r.mu.Unlock()

	if handler == nil {
		return errors.New("mock radio is not open")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	handler(ev)
	return nil
}

// EmitJSON builds an event with NewEventBuilder().FromJSON and emits it.
// The identifier field is resolved to this radio's handle.
func (r *MockRadio) EmitJSON(jsonStrFmt string, args ...interface{}) error {
	b := NewEventBuilder().FromJSON(jsonStrFmt, args...)
	if id := b.Identifier(); id != "" {
		b.WithHandle(r.Handle(id))
	}
	return r.Emit(b.Build())
}

func (r *MockRadio) PowerOn() error {
	return r.SetPower(device.PoweredOn)
}

func (r *MockRadio) PowerOff() error {
	return r.SetPower(device.PoweredOff)
}

func (r *MockRadio) SetPower(state device.PowerState) error {
	return r.Emit(r.PowerEvent(state))
}

// PowerEvent builds a power state change for EmitOnOpen
func (r *MockRadio) PowerEvent(state device.PowerState) device.Event {
	return device.Event{Kind: device.EventPowerStateChanged, PowerState: state}
}

// FoundEvent builds an advertisement carrying this radio's handle for id
func (r *MockRadio) FoundEvent(id, name string, rssi int) device.Event {
	return device.Event{Kind: device.EventPeripheralFound, Handle: r.Handle(id), Name: name, RSSI: rssi}
}

// Found reports an advertisement and returns the handle it carried
func (r *MockRadio) Found(id, name string, rssi int) *Handle {
	ev := r.FoundEvent(id, name, rssi)
	_ = r.Emit(ev)
	return ev.Handle.(*Handle)
}

func (r *MockRadio) Connected(id string) error {
	return r.Emit(device.Event{Kind: device.EventConnected, Handle: r.Handle(id)})
}

func (r *MockRadio) Disconnected(id string, reason error) error {
	return r.Emit(device.Event{Kind: device.EventDisconnected, Handle: r.Handle(id), Err: reason})
}

func (r *MockRadio) ConnectFailed(id string, reason error) error {
	return r.Emit(device.Event{Kind: device.EventConnectFailed, Handle: r.Handle(id), Err: reason})
}
