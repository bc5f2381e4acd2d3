package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for known BLE peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals and add every peripheral whose
advertised name is on the known-name list to the registry.

Peripherals restored from the store are listed first, in the order they
were saved. Use --persist to save the registry when the scan ends.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

// watchRefreshInterval is how often watch mode redraws after a change
var watchRefreshInterval = time.Second

var (
	scanNames    []string
	scanServices []string
	scanDuration time.Duration
	scanFormat   string
	scanWatch    bool
	scanPersist  bool
	scanAll      bool
)

func init() {
	initScanFlags()
}

func initScanFlags() {
	scanCmd.Flags().StringArrayVarP(&scanNames, "name", "n", nil, "Additional known peripheral name (repeatable)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only report peripherals advertising these service UUIDs")
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default scan_timeout, indefinite with --watch)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json); default output_format")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Redraw the registry as peripherals are found")
	scanCmd.Flags().BoolVar(&scanPersist, "persist", false, "Save the identifiers of all known peripherals when the scan ends")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Accept every peripheral when no names are configured")
}

func resetScanFlags() {
	scanNames = nil
	scanServices = nil
	scanDuration = 0
	scanFormat = ""
	scanWatch = false
	scanPersist = false
	scanAll = false
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	services, err := device.ValidateUUID(scanServices...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cmd, sessionOptions{
		names:     scanNames,
		services:  services,
		acceptAll: scanAll,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	format := scanFormat
	if format == "" {
		format = s.cfg.OutputFormat
	}
	duration := scanDuration
	if duration <= 0 && !scanWatch {
		duration = s.cfg.ScanTimeout
	}

	if err := s.coord.StartScan(); err != nil {
		return err
	}

	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if scanWatch {
		watchRegistry(scanCtx, cmd.OutOrStdout(), s.coord, format)
	} else {
		waitWithProgress(scanCtx, cmd.ErrOrStderr(), "Scanning for peripherals", "Scanning", duration)
	}

	if err := s.coord.StopScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}

	if !scanWatch {
		if err := writeRecords(cmd.OutOrStdout(), format, s.coord.Peripherals()); err != nil {
			return err
		}
	}

	if scanPersist {
		return persistRegistry(cmd.ErrOrStderr(), s.coord)
	}
	return nil
}

// waitWithProgress blocks until ctx is done, showing a countdown on a terminal
func waitWithProgress(ctx context.Context, out io.Writer, prefix, phase string, duration time.Duration) {
	if isTerminal(out) {
		var progress *ProgressPrinter
		if duration > 0 {
			progress = NewCountdownProgressPrinter(out, prefix, phase, duration)
		} else {
			progress = NewProgressPrinter(out, prefix, phase)
		}
		progress.Start()
		defer progress.Stop()
	}
	<-ctx.Done()
}

// watchRegistry redraws the registry whenever a notification arrives, at most
// once per watchRefreshInterval, until ctx is done.
func watchRegistry(ctx context.Context, out io.Writer, coord *central.Coordinator, format string) {
	render := func() {
		if isTerminal(out) {
			clearScreen(out)
		}
		if err := writeRecords(out, format, coord.Peripherals()); err != nil {
			fmt.Fprintf(out, "failed to render peripherals: %v\n", err)
		}
	}

	ticker := time.NewTicker(watchRefreshInterval)
	defer ticker.Stop()

	render()
	dirty := false
	events := coord.Events()
	for {
		select {
		case <-ctx.Done():
			if dirty {
				render()
			}
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			dirty = true
		case <-ticker.C:
			if dirty {
				render()
				dirty = false
			}
		}
	}
}

func persistRegistry(out io.Writer, coord *central.Coordinator) error {
	if err := coord.PersistPeripherals(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d known peripheral(s)\n", coord.Count())
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "", "table", "json":
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
}
