package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/matcher"
	"github.com/srg/blecentral/internal/registry"
	"github.com/srg/blecentral/internal/ringchan"
	"github.com/srg/blecentral/internal/store"
)

// Options configures a Coordinator
type Options struct {
	// KnownNames is the allow-list consulted for every discovered peripheral
	KnownNames []string
	Matcher    matcher.Options

	// InitialIdentifiers are restored as placeholder records on construction
	InitialIdentifiers []string
	// Store is optional; when set its identifiers are restored after InitialIdentifiers
	Store store.Store

	// ScanServices and ScanOptions are used by StartScan
	ScanServices []string
	ScanOptions  device.ScanOptions

	// EventBuffer is the capacity of the Events stream
	EventBuffer int `default:"64"`

	Logger *logrus.Logger
}

// Coordinator owns the peripheral registry and drives the connection state
// machine. Commands, queries and radio events are executed one at a time on a
// single executor goroutine, so registry mutations never interleave.
type Coordinator struct {
	radio   device.Radio
	matcher *matcher.Matcher
	store   store.Store
	logger  *logrus.Logger
	opts    Options

	// Owned by the executor goroutine
	registry *registry.Registry
	scanning bool
	power    device.PowerState

	ops    chan func()
	inbox  *queue[device.Event]
	outbox *queue[Notification]
	events *ringchan.RingChannel[Notification]

	obsMu     sync.Mutex
	observers []observerEntry
	nextObsID uint64

	opened       atomic.Bool
	stop         chan struct{}
	dispatchStop chan struct{}
	loopDone     <-chan struct{}
	dispatchDone <-chan struct{}
	dispatcherID atomic.Uint64
	closeOnce    sync.Once
	closeErr     error
}

type observerEntry struct {
	id       uint64
	observer Observer
}

// New creates a Coordinator and restores persisted identifiers as
// Disconnected placeholder records. The executor is running when New returns;
// call Start to open the radio and Close to release everything.
func New(radio device.Radio, opts Options) (*Coordinator, error) {
	if radio == nil {
		return nil, errors.New("radio is required")
	}
	defaults.SetDefaults(&opts)

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	c := &Coordinator{
		radio:        radio,
		matcher:      matcher.New(opts.KnownNames, opts.Matcher),
		store:        opts.Store,
		logger:       logger,
		opts:         opts,
		registry:     registry.New(),
		ops:          make(chan func()),
		inbox:        newQueue[device.Event](),
		outbox:       newQueue[Notification](),
		events:       ringchan.New[Notification](opts.EventBuffer),
		stop:         make(chan struct{}),
		dispatchStop: make(chan struct{}),
	}

	ids := append([]string(nil), opts.InitialIdentifiers...)
	if c.store != nil {
		loaded, err := c.store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to restore peripherals: %w", err)
		}
		ids = append(ids, loaded...)
	}
	restored := c.restore(ids)
	if restored > 0 {
		logger.WithField("count", restored).Info("Restored known peripherals")
	}

	c.loopDone = groutine.Start(context.Background(), "central-executor", c.run)
	c.dispatchDone = groutine.Start(context.Background(), "central-dispatcher", c.dispatch)
	return c, nil
}

// Start opens the radio. Radio events are accepted from this point on.
// Cancelling ctx closes the coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.stop:
		return device.ErrClosed
	default:
	}
	if !c.opened.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}

	if err := c.radio.Open(c.inbox.Push); err != nil {
		c.opened.Store(false)
		return fmt.Errorf("failed to open radio: %w", err)
	}

	groutine.Go(ctx, "central-context-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			c.logger.WithField("reason", ctx.Err()).Debug("Context done, closing coordinator")
			_ = c.Close()
		case <-c.stop:
		}
	})

	c.logger.Info("Central coordinator started")
	return nil
}

// Close stops scanning, closes the radio and waits until every queued
// notification has been delivered. It is safe to call more than once.
// Called from an observer callback, Close returns without waiting; the
// remaining notifications are delivered once the callback returns.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(func() {
			if !c.scanning {
				return
			}
			if err := c.radio.StopScan(); err != nil {
				c.logger.WithError(err).Warn("Failed to stop scan on close")
			}
			c.scanning = false
		})

		if c.opened.Load() {
			c.closeErr = c.radio.Close()
		}

		close(c.stop)
		<-c.loopDone
		close(c.dispatchStop)
		c.logger.Debug("Central coordinator closed")
	})

	// Waited outside closeOnce: a callback calling Close must not block the dispatcher
	if groutine.ID() != c.dispatcherID.Load() {
		<-c.dispatchDone
	}
	return c.closeErr
}

// AddObserver registers o for notifications and returns a function that
// unregisters it.
func (c *Coordinator) AddObserver(o Observer) (remove func()) {
	c.obsMu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers = append(c.observers, observerEntry{id: id, observer: o})
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			defer c.obsMu.Unlock()
			for i, e := range c.observers {
				if e.id == id {
					c.observers = append(c.observers[:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Events returns a bounded stream of notifications. When the consumer falls
// behind the oldest notifications are dropped. The channel is closed by Close.
func (c *Coordinator) Events() <-chan Notification {
	return c.events.C()
}

// StartScan scans with the configured service filter and options
func (c *Coordinator) StartScan() error {
	return c.ScanForPeripherals(c.opts.ScanServices, c.opts.ScanOptions)
}

// ScanForPeripherals asks the radio to scan. It is a no-op while already scanning.
func (c *Coordinator) ScanForPeripherals(services []string, opts device.ScanOptions) error {
	var err error
	if derr := c.do(func() {
		if c.scanning {
			return
		}
		if c.power != device.PoweredOn {
			err = &device.RadioError{State: c.power}
			return
		}
		if serr := c.radio.StartScan(services, opts); serr != nil {
			err = fmt.Errorf("failed to start scan: %w", serr)
			return
		}
		c.scanning = true
		c.logger.WithFields(logrus.Fields{
			"services":         services,
			"allow_duplicates": opts.AllowDuplicates,
		}).Info("Scan started")
	}); derr != nil {
		return derr
	}
	return err
}

// StopScan stops an active scan. It is a no-op when not scanning.
func (c *Coordinator) StopScan() error {
	var err error
	if derr := c.do(func() {
		if !c.scanning {
			return
		}
		if serr := c.radio.StopScan(); serr != nil {
			err = fmt.Errorf("failed to stop scan: %w", serr)
			return
		}
		c.scanning = false
		c.logger.Info("Scan stopped")
	}); derr != nil {
		return derr
	}
	return err
}

// Connect requests a connection to the peripheral at index. Completion is
// reported to observers.
func (c *Coordinator) Connect(index int) error {
	var err error
	if derr := c.do(func() { err = c.connect(index) }); derr != nil {
		return derr
	}
	return err
}

func (c *Coordinator) connect(index int) error {
	rec, err := c.registry.At(index)
	if err != nil {
		return err
	}

	switch rec.State {
	case device.Connecting, device.Connected:
		return nil
	case device.Disconnecting:
		return &device.TransitionError{Op: "connect", From: rec.State}
	}

	if c.power != device.PoweredOn {
		return &device.RadioError{State: c.power}
	}

	handle := rec.Handle
	if handle == nil {
		handles, rerr := c.radio.Retrieve(rec.Identifier)
		if rerr != nil {
			return fmt.Errorf("failed to retrieve %q: %w", rec.Identifier, rerr)
		}
		if len(handles) == 0 {
			return fmt.Errorf("%w: %s", device.ErrNotBound, rec.Identifier)
		}
		handle = handles[0]
	}

	if err := c.radio.Connect(handle); err != nil {
		return fmt.Errorf("failed to connect %q: %w", rec.Identifier, err)
	}

	_, err = c.registry.Update(rec.Identifier, func(r *registry.Record) {
		r.Handle = handle
		r.State = device.Connecting
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"index":      index,
		"identifier": rec.Identifier,
		"name":       rec.Name,
	}).Info("Connecting to peripheral")
	return nil
}

// Disconnect requests the peripheral at index to disconnect. Only a
// Connected peripheral can be disconnected; a peripheral that is already
// disconnecting or disconnected is left alone.
func (c *Coordinator) Disconnect(index int) error {
	var err error
	if derr := c.do(func() { err = c.disconnect(index) }); derr != nil {
		return derr
	}
	return err
}

func (c *Coordinator) disconnect(index int) error {
	rec, err := c.registry.At(index)
	if err != nil {
		return err
	}

	switch rec.State {
	case device.Disconnecting, device.Disconnected:
		return nil
	case device.Connected:
	default:
		return &device.TransitionError{Op: "disconnect", From: rec.State}
	}

	if err := c.radio.Disconnect(rec.Handle); err != nil {
		return fmt.Errorf("failed to disconnect %q: %w", rec.Identifier, err)
	}

	_, err = c.registry.Update(rec.Identifier, func(r *registry.Record) {
		r.State = device.Disconnecting
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"index":      index,
		"identifier": rec.Identifier,
	}).Info("Disconnecting peripheral")
	return nil
}

// AddPeripheral registers an identifier that has not been discovered yet.
// The record starts Disconnected and unbound, like a restored one.
func (c *Coordinator) AddPeripheral(identifier, name string) error {
	identifier = device.NormalizeIdentifier(identifier)
	if identifier == "" {
		return errors.New("identifier is required")
	}
	var err error
	if derr := c.do(func() {
		err = c.registry.Add(registry.Record{
			Identifier: identifier,
			Name:       name,
			State:      device.Disconnected,
		})
	}); derr != nil {
		return derr
	}
	return err
}

// RemovePeripheral removes the record with identifier and returns how many
// records were removed. A live connection is asked to disconnect first.
func (c *Coordinator) RemovePeripheral(identifier string) int {
	identifier = device.NormalizeIdentifier(identifier)
	removed := 0
	_ = c.do(func() {
		rec, _, ok := c.registry.FindByIdentifier(identifier)
		if !ok {
			return
		}
		c.release(rec)
		removed = c.registry.Remove(rec)
	})
	return removed
}

// RemovePeripheralAt removes the record at index. Later records shift down.
func (c *Coordinator) RemovePeripheralAt(index int) (registry.Record, error) {
	var (
		rec registry.Record
		err error
	)
	if derr := c.do(func() {
		rec, err = c.registry.At(index)
		if err != nil {
			return
		}
		c.release(rec)
		rec, err = c.registry.RemoveAt(index)
	}); derr != nil {
		return registry.Record{}, derr
	}
	return rec, err
}

// release asks the radio to drop a connection owned by a record about to be removed
func (c *Coordinator) release(rec registry.Record) {
	if !rec.Bound() || (rec.State != device.Connecting && rec.State != device.Connected) {
		return
	}
	if err := c.radio.Disconnect(rec.Handle); err != nil {
		c.logger.WithError(err).WithField("identifier", rec.Identifier).Warn("Failed to disconnect removed peripheral")
	}
}

// PersistPeripherals saves the identifiers of every record to the store
func (c *Coordinator) PersistPeripherals() error {
	if c.store == nil {
		return errors.New("no peripheral store configured")
	}
	var ids []string
	if err := c.do(func() { ids = c.registry.Identifiers() }); err != nil {
		return err
	}
	if err := c.store.Save(ids); err != nil {
		return err
	}
	c.logger.WithField("count", len(ids)).Info("Persisted known peripherals")
	return nil
}

// LoadPeripherals restores stored identifiers that are not in the registry
// yet and returns how many records were added.
func (c *Coordinator) LoadPeripherals() (int, error) {
	if c.store == nil {
		return 0, errors.New("no peripheral store configured")
	}
	ids, err := c.store.Load()
	if err != nil {
		return 0, err
	}
	added := 0
	if err := c.do(func() { added = c.restore(ids) }); err != nil {
		return 0, err
	}
	return added, nil
}

// restore adds a placeholder record for every identifier not already present
func (c *Coordinator) restore(ids []string) int {
	added := 0
	for _, id := range ids {
		id = device.NormalizeIdentifier(id)
		if id == "" {
			continue
		}
		if _, ok := c.registry.IndexOf(id); ok {
			continue
		}
		if err := c.registry.Add(registry.Record{Identifier: id, State: device.Disconnected}); err == nil {
			added++
		}
	}
	return added
}

// Count returns the number of records
func (c *Coordinator) Count() int {
	n := 0
	_ = c.do(func() { n = c.registry.Count() })
	return n
}

// PeripheralAt returns a copy of the record at index
func (c *Coordinator) PeripheralAt(index int) (registry.Record, error) {
	var (
		rec registry.Record
		err error
	)
	if derr := c.do(func() { rec, err = c.registry.At(index) }); derr != nil {
		return registry.Record{}, derr
	}
	return rec, err
}

// FindPeripheral returns the record with identifier and its current index
func (c *Coordinator) FindPeripheral(identifier string) (registry.Record, int, bool) {
	var (
		rec registry.Record
		idx = -1
		ok  bool
	)
	identifier = device.NormalizeIdentifier(identifier)
	_ = c.do(func() { rec, idx, ok = c.registry.FindByIdentifier(identifier) })
	return rec, idx, ok
}

// FindByHandle returns the record bound to h and its current index
func (c *Coordinator) FindByHandle(h device.Handle) (registry.Record, int, bool) {
	var (
		rec registry.Record
		idx = -1
		ok  bool
	)
	_ = c.do(func() { rec, idx, ok = c.registry.FindByHandle(h) })
	return rec, idx, ok
}

// Peripherals returns a snapshot of all records in index order
func (c *Coordinator) Peripherals() []registry.Record {
	var recs []registry.Record
	_ = c.do(func() { recs = c.registry.Records() })
	return recs
}

// IsScanning reports whether a scan is active
func (c *Coordinator) IsScanning() bool {
	scanning := false
	_ = c.do(func() { scanning = c.scanning })
	return scanning
}

// PowerState returns the last power state reported by the radio
func (c *Coordinator) PowerState() device.PowerState {
	state := device.PowerUnknown
	_ = c.do(func() { state = c.power })
	return state
}

// KnownNames returns the configured allow-list
func (c *Coordinator) KnownNames() []string {
	return c.matcher.Names()
}

// do runs fn on the executor goroutine and waits for it to finish.
// fn must not call do.
func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case c.ops <- op:
	case <-c.stop:
		return device.ErrClosed
	}
	<-done
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case <-c.stop:
			return
		case op := <-c.ops:
			// Events that arrived before the command was issued are applied first
			c.handleEvents()
			op()
		case <-c.inbox.Ready():
			c.handleEvents()
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context) {
	c.dispatcherID.Store(groutine.ID())
	defer c.events.Close()

	for {
		select {
		case <-c.outbox.Ready():
			c.deliverAll()
		case <-c.dispatchStop:
			c.deliverAll()
			return
		}
	}
}

func (c *Coordinator) deliverAll() {
	for _, n := range c.outbox.Drain() {
		c.obsMu.Lock()
		observers := make([]Observer, len(c.observers))
		for i, e := range c.observers {
			observers[i] = e.observer
		}
		c.obsMu.Unlock()

		for _, o := range observers {
			deliver(o, n)
		}
		if c.events.Send(n) {
			c.logger.WithField("event", n.Event.Kind).Debug("Event stream full, dropped oldest notification")
		}
	}
}
