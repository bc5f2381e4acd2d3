package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Options configures the go-ble radio
type Options struct {
	// ConnectTimeout bounds a single dial attempt
	ConnectTimeout time.Duration `default:"30s"`
	// ProbeInterval is how often an unavailable adapter is re-opened
	ProbeInterval time.Duration `default:"2s"`
}

// peripheralHandle is the device.Handle handed out by Radio.
// One handle exists per address for the lifetime of the Radio.
type peripheralHandle struct {
	id   string
	addr ble.Addr
}

func (h *peripheralHandle) Identifier() string {
	return h.id
}

func (h *peripheralHandle) String() string {
	return h.id
}

// Radio implements device.Radio on top of go-ble
type Radio struct {
	opts   Options
	logger *logrus.Logger

	mu         sync.Mutex
	central    Central
	handler    device.EventHandler
	power      device.PowerState
	opened     bool
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	probeStop  context.CancelFunc

	handles *hashmap.Map[string, *peripheralHandle]
	links   *hashmap.Map[string, Link]
	dials   *hashmap.Map[string, context.CancelFunc]
}

var _ device.Radio = (*Radio)(nil)

// NewRadio creates a go-ble radio. Zero-valued options take their defaults.
func NewRadio(opts *Options, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}

	o := Options{}
	defaults.SetDefaults(&o)
	if opts != nil {
		if opts.ConnectTimeout > 0 {
			o.ConnectTimeout = opts.ConnectTimeout
		}
		if opts.ProbeInterval > 0 {
			o.ProbeInterval = opts.ProbeInterval
		}
	}

	return &Radio{
		opts:    o,
		logger:  logger,
		handles: hashmap.New[string, *peripheralHandle](),
		links:   hashmap.New[string, Link](),
		dials:   hashmap.New[string, context.CancelFunc](),
	}
}

// Open creates the platform device and registers handler for all events.
// An adapter that is switched off is not an error: the radio reports
// PoweredOff and keeps probing until the adapter becomes available.
func (r *Radio) Open(handler device.EventHandler) error {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return fmt.Errorf("radio already open")
	}
	r.opened = true
	r.handler = handler
	r.mu.Unlock()

	central, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		state, ok := powerStateOf(err)
		if !ok {
			r.mu.Lock()
			r.opened = false
			r.handler = nil
			r.mu.Unlock()
			return fmt.Errorf("failed to create BLE device: %w", err)
		}
		r.logger.WithField("error", err).Warn("BLE adapter unavailable, waiting for it to power on")
		r.markUnavailable(state)
		return nil
	}

	r.mu.Lock()
	r.central = central
	r.mu.Unlock()
	r.setPower(device.PoweredOn)
	return nil
}

// Close stops scanning, cancels pending dials and drops live connections
func (r *Radio) Close() error {
	r.mu.Lock()
	if !r.opened {
		r.mu.Unlock()
		return nil
	}
	r.opened = false
	r.handler = nil
	r.central = nil
	scanCancel := r.scanCancel
	r.scanCancel = nil
	r.scanDone = nil
	probeStop := r.probeStop
	r.probeStop = nil
	r.mu.Unlock()

	if scanCancel != nil {
		scanCancel()
	}
	if probeStop != nil {
		probeStop()
	}

	r.dials.Range(func(_ string, cancel context.CancelFunc) bool {
		cancel()
		return true
	})

	var errs []error
	r.links.Range(func(id string, link Link) bool {
		if err := link.CancelConnection(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		r.links.Del(id)
		return true
	})

	r.logger.Debug("BLE radio closed")
	return errors.Join(errs...)
}

// PowerState returns the last known adapter state
func (r *Radio) PowerState() device.PowerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

// StartScan starts a background scan. Found peripherals advertising one of
// services (or any peripheral when services is empty) are reported as
// EventPeripheralFound. A second StartScan while scanning is a no-op. A scan
// that ends without StopScan is reported as EventScanStopped, or as a power
// change when the adapter went away.
func (r *Radio) StartScan(services []string, opts device.ScanOptions) error {
	filter, err := parseServiceFilter(services)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.central == nil {
		return &device.RadioError{State: r.power}
	}
	if r.scanCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	central := r.central
	r.scanCancel = cancel

	r.logger.WithFields(logrus.Fields{
		"services":         filter,
		"allow_duplicates": opts.AllowDuplicates,
	}).Info("Starting BLE scan...")

	var done <-chan struct{}
	done = groutine.Start(ctx, "ble-scan", func(ctx context.Context) {
		err := central.Scan(ctx, opts.AllowDuplicates, func(adv Advertisement) {
			if !adv.HasAnyService(filter) {
				return
			}
			r.emit(device.Event{
				Kind:   device.EventPeripheralFound,
				Handle: r.handleFor(adv.Addr),
				Name:   adv.Name,
				RSSI:   adv.RSSI,
			})
		})

		// A scan still registered here ended without StopScan or Close
		r.mu.Lock()
		current := r.scanDone == done
		if current {
			r.scanCancel = nil
			r.scanDone = nil
		}
		r.mu.Unlock()

		if !current {
			r.logger.Debug("BLE scan finished")
			return
		}

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = NormalizeError(err)
			r.logger.WithField("error", err).Error("BLE scan failed")
			if state, ok := powerStateOf(err); ok {
				r.markUnavailable(state)
				return
			}
		} else {
			r.logger.Warn("BLE scan ended by the platform")
		}
		r.emit(device.Event{Kind: device.EventScanStopped, Err: err})
	})
	r.scanDone = done
	return nil
}

// StopScan cancels the running scan, if any
func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel := r.scanCancel
	r.scanCancel = nil
	r.scanDone = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	r.logger.Info("BLE scan stopped")
	return nil
}

// Connect dials the peripheral in the background. The outcome is reported
// as EventConnected or EventConnectFailed.
func (r *Radio) Connect(h device.Handle) error {
	ph, err := r.ownHandle(h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	central := r.central
	power := r.power
	r.mu.Unlock()
	if central == nil {
		return &device.RadioError{State: power}
	}

	if _, connected := r.links.Get(ph.id); connected {
		r.logger.WithField("address", ph.id).Debug("Connect requested for connected peripheral")
		r.emit(device.Event{Kind: device.EventConnected, Handle: ph})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectTimeout)
	if !r.dials.Insert(ph.id, cancel) {
		cancel()
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"address": ph.id,
		"timeout": r.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		defer cancel()
		defer r.dials.Del(ph.id)

		link, err := central.Dial(ctx, ph.addr)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.logger.WithField("address", ph.id).Info("Connection attempt cancelled")
				r.emit(device.Event{Kind: device.EventDisconnected, Handle: ph, Err: err})
				return
			}
			err = NormalizeError(err)
			r.logger.WithFields(logrus.Fields{
				"address": ph.id,
				"error":   err,
			}).Error("Failed to dial BLE device")
			r.emit(device.Event{Kind: device.EventConnectFailed, Handle: ph, Err: err})
			return
		}

		r.links.Set(ph.id, link)
		r.logger.WithField("address", ph.id).Info("BLE device connected successfully")
		r.emit(device.Event{Kind: device.EventConnected, Handle: ph})
		r.monitor(ph, link)
	})
	return nil
}

// monitor reports EventDisconnected once the platform drops the link
func (r *Radio) monitor(ph *peripheralHandle, link Link) {
	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		<-link.Disconnected()
		if current, ok := r.links.Get(ph.id); ok && current == link {
			r.links.Del(ph.id)
		}
		r.logger.WithField("address", ph.id).Info("BLE device disconnected")
		r.emit(device.Event{Kind: device.EventDisconnected, Handle: ph})
	})
}

// Disconnect cancels a pending dial or tears down a live link. Completion is
// reported as EventDisconnected.
func (r *Radio) Disconnect(h device.Handle) error {
	ph, err := r.ownHandle(h)
	if err != nil {
		return err
	}

	if cancel, pending := r.dials.Get(ph.id); pending {
		cancel()
		return nil
	}

	link, ok := r.links.Get(ph.id)
	if !ok {
		r.logger.WithField("address", ph.id).Debug("Disconnect called but already disconnected")
		r.emit(device.Event{Kind: device.EventDisconnected, Handle: ph})
		return nil
	}

	r.logger.WithField("address", ph.id).Info("Disconnecting BLE device...")
	groutine.Go(context.Background(), "ble-disconnect", func(context.Context) {
		if err := link.CancelConnection(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"address": ph.id,
				"error":   err,
			}).Warn("BLE device disconnected with errors")
		}
	})
	return nil
}

// Retrieve returns handles for identifiers without scanning. go-ble can dial
// any address directly, so every well-formed identifier yields a handle.
func (r *Radio) Retrieve(identifiers ...string) ([]device.Handle, error) {
	r.mu.Lock()
	available := r.central != nil
	power := r.power
	r.mu.Unlock()
	if !available {
		return nil, &device.RadioError{State: power}
	}

	result := make([]device.Handle, 0, len(identifiers))
	for _, id := range identifiers {
		id = device.NormalizeIdentifier(id)
		if id == "" {
			continue
		}
		result = append(result, r.handleFor(ble.NewAddr(id)))
	}
	return result, nil
}

// handleFor returns the cached handle for addr, creating it on first sight
func (r *Radio) handleFor(addr ble.Addr) *peripheralHandle {
	id := device.NormalizeIdentifier(addr.String())
	if h, ok := r.handles.Get(id); ok {
		return h
	}
	h, _ := r.handles.GetOrInsert(id, &peripheralHandle{id: id, addr: addr})
	return h
}

func (r *Radio) ownHandle(h device.Handle) (*peripheralHandle, error) {
	ph, ok := h.(*peripheralHandle)
	if !ok || ph == nil {
		return nil, fmt.Errorf("handle %v was not issued by this radio", h)
	}
	return ph, nil
}

func (r *Radio) emit(ev device.Event) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	handler(ev)
}

func (r *Radio) setPower(state device.PowerState) {
	r.mu.Lock()
	if r.power == state {
		r.mu.Unlock()
		return
	}
	r.power = state
	r.mu.Unlock()

	r.logger.WithField("state", state).Info("BLE adapter power state changed")
	r.emit(device.Event{Kind: device.EventPowerStateChanged, PowerState: state})
}

// markUnavailable drops the platform device and probes until it can be re-created
func (r *Radio) markUnavailable(state device.PowerState) {
	r.mu.Lock()
	r.central = nil
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
		r.scanDone = nil
	}
	if r.probeStop != nil || !r.opened {
		r.mu.Unlock()
		r.setPower(state)
		return
	}
	ctx, stop := context.WithCancel(context.Background())
	r.probeStop = stop
	interval := r.opts.ProbeInterval
	r.mu.Unlock()

	r.setPower(state)

	groutine.Go(ctx, "ble-power-probe", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			central, err := DeviceFactory()
			if err != nil {
				r.logger.WithField("error", NormalizeError(err)).Debug("BLE adapter still unavailable")
				continue
			}

			r.mu.Lock()
			if !r.opened {
				r.mu.Unlock()
				return
			}
			r.central = central
			r.probeStop = nil
			r.mu.Unlock()
			stop()
			r.setPower(device.PoweredOn)
			return
		}
	})
}
