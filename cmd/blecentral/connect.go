package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/registry"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <index|identifier>",
	Short: "Connect to a known BLE peripheral",
	Long: `Connect to a peripheral from the registry, then disconnect.

The target is either a registry index as printed by 'blecentral scan' or a
peripheral identifier. An identifier that is not in the registry is added
as a placeholder and resolved by the radio without scanning.

Unless --no-scan is given, the command scans until the target is
discovered or --scan-duration elapses before connecting.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectNames        []string
	connectServices     []string
	connectAll          bool
	connectScanDuration time.Duration
	connectNoScan       bool
	connectTimeout      time.Duration
	connectHold         time.Duration
	connectPersist      bool
)

func init() {
	initConnectFlags()
}

func initConnectFlags() {
	connectCmd.Flags().StringArrayVarP(&connectNames, "name", "n", nil, "Additional known peripheral name (repeatable)")
	connectCmd.Flags().StringSliceVarP(&connectServices, "services", "s", nil, "Only discover peripherals advertising these service UUIDs")
	connectCmd.Flags().BoolVar(&connectAll, "all", false, "Accept every peripheral when no names are configured")
	connectCmd.Flags().DurationVar(&connectScanDuration, "scan-duration", 0, "Maximum scan time before connecting (default scan_timeout)")
	connectCmd.Flags().BoolVar(&connectNoScan, "no-scan", false, "Connect to restored peripherals without scanning")
	connectCmd.Flags().DurationVarP(&connectTimeout, "timeout", "t", 0, "Connection timeout (default connect_timeout)")
	connectCmd.Flags().DurationVar(&connectHold, "hold", 0, "Keep the connection open this long before disconnecting")
	connectCmd.Flags().BoolVar(&connectPersist, "persist", false, "Save the identifiers of all known peripherals after connecting")
}

func resetConnectFlags() {
	connectNames = nil
	connectServices = nil
	connectAll = false
	connectScanDuration = 0
	connectNoScan = false
	connectTimeout = 0
	connectHold = 0
	connectPersist = false
}

// target identifies the peripheral to connect to, by index or identifier
type target struct {
	index      int
	identifier string
}

func parseTarget(arg string) (target, error) {
	if arg == "" {
		return target{}, fmt.Errorf("peripheral index or identifier is required")
	}
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 0 {
			return target{}, &device.IndexError{Index: idx}
		}
		return target{index: idx}, nil
	}
	return target{index: -1, identifier: arg}, nil
}

// resolved reports whether the registry already holds the target
func (t target) resolved(coord *central.Coordinator) bool {
	if t.identifier == "" {
		return coord.Count() > t.index
	}
	rec, _, ok := coord.FindPeripheral(t.identifier)
	return ok && rec.Bound()
}

func runConnect(cmd *cobra.Command, args []string) error {
	tgt, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	services, err := device.ValidateUUID(connectServices...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, sessionOptions{
		names:     connectNames,
		services:  services,
		acceptAll: connectAll,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	timeout := connectTimeout
	if timeout <= 0 {
		timeout = s.cfg.ConnectTimeout
	}

	if !connectNoScan && !tgt.resolved(s.coord) {
		duration := connectScanDuration
		if duration <= 0 {
			duration = s.cfg.ScanTimeout
		}
		if err := scanUntil(ctx, s.coord, duration, tgt.resolved); err != nil {
			return err
		}
	}

	index := tgt.index
	if tgt.identifier != "" {
		if _, idx, ok := s.coord.FindPeripheral(tgt.identifier); ok {
			index = idx
		} else {
			if err := s.coord.AddPeripheral(tgt.identifier, ""); err != nil {
				return err
			}
			index = s.coord.Count() - 1
		}
	}

	rec, err := s.coord.PeripheralAt(index)
	if err != nil {
		return err
	}

	outcome := make(chan central.Notification, 4)
	remove := s.coord.AddObserver(outcomeObserver(rec.Identifier, outcome))
	defer remove()

	fmt.Fprintf(cmd.ErrOrStderr(), "Connecting to %s (%s)...\n", rec.DisplayName(), rec.Identifier)
	if err := s.coord.Connect(index); err != nil {
		return err
	}

	rec, err = awaitConnected(ctx, outcome, rec, timeout)
	if errors.Is(err, ErrConnectTimeout) {
		// Closing the session cancels the dial; report where the record was left
		if cur, _, ok := s.coord.FindPeripheral(rec.Identifier); ok {
			return fmt.Errorf("%w (left %s, pending connection cancelled)", err, cur.State)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s) at index %d\n", rec.DisplayName(), rec.Identifier, index)

	if connectPersist {
		if err := persistRegistry(cmd.ErrOrStderr(), s.coord); err != nil {
			return err
		}
	}

	if connectHold > 0 {
		if err := holdConnection(ctx, outcome, connectHold); err != nil {
			return err
		}
	}

	if err := s.coord.Disconnect(index); err != nil {
		return err
	}
	if err := awaitDisconnected(outcome, timeout); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected from %s (%s)\n", rec.DisplayName(), rec.Identifier)
	return nil
}

// scanUntil scans until done reports true or duration elapses
func scanUntil(ctx context.Context, coord *central.Coordinator, duration time.Duration, done func(*central.Coordinator) bool) error {
	found := make(chan struct{}, 1)
	remove := coord.AddObserver(central.ObserverFuncs{
		Found: func(central.Notification) {
			select {
			case found <- struct{}{}:
			default:
			}
		},
	})
	defer remove()

	if err := coord.StartScan(); err != nil {
		return err
	}
	defer func() { _ = coord.StopScan() }()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	for !done(coord) {
		select {
		case <-found:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// outcomeObserver forwards connection outcomes for one identifier
func outcomeObserver(identifier string, out chan<- central.Notification) central.Observer {
	forward := func(n central.Notification) {
		if n.Identifier != identifier {
			return
		}
		select {
		case out <- n:
		default:
		}
	}
	return central.ObserverFuncs{
		Connected:    forward,
		Disconnected: forward,
		Failed:       forward,
	}
}

func awaitConnected(ctx context.Context, outcome <-chan central.Notification, rec registry.Record, timeout time.Duration) (registry.Record, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-outcome:
		switch n.Event.Kind {
		case device.EventConnected:
			return n.Record, nil
		case device.EventConnectFailed:
			return rec, fmt.Errorf("%w: %s: %v", ErrConnectFailed, rec.Identifier, n.Event.Err)
		default:
			return rec, fmt.Errorf("%w: %s", ErrConnectionLost, rec.Identifier)
		}
	case <-timer.C:
		return rec, fmt.Errorf("%w after %s: %s", ErrConnectTimeout, timeout, rec.Identifier)
	case <-ctx.Done():
		return rec, ctx.Err()
	}
}

// holdConnection keeps the link for d; an interrupt ends the hold early
func holdConnection(ctx context.Context, outcome <-chan central.Notification, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case n := <-outcome:
		return fmt.Errorf("%w: %s", ErrConnectionLost, n.Identifier)
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func awaitDisconnected(outcome <-chan central.Notification, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case n := <-outcome:
			if n.Event.Kind == device.EventDisconnected {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out after %s waiting for disconnect", timeout)
		}
	}
}
