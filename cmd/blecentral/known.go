package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/devicefactory"
)

// knownCmd represents the known command
var knownCmd = &cobra.Command{
	Use:   "known",
	Short: "List, add or forget persisted peripherals",
	Long: `List the peripheral identifiers saved in the configured store.

--add registers an identifier without discovering it first, and --forget
removes one. Either flag saves the updated list. The radio is not used.`,
	Args: cobra.NoArgs,
	RunE: runKnown,
}

var (
	knownFormat string
	knownAdd    []string
	knownForget []string
)

func init() {
	initKnownFlags()
}

func initKnownFlags() {
	knownCmd.Flags().StringVarP(&knownFormat, "format", "f", "", "Output format (table, json); default output_format")
	knownCmd.Flags().StringArrayVar(&knownAdd, "add", nil, "Identifier to remember (repeatable)")
	knownCmd.Flags().StringArrayVar(&knownForget, "forget", nil, "Identifier to forget (repeatable)")
}

func resetKnownFlags() {
	knownFormat = ""
	knownAdd = nil
	knownForget = nil
}

func runKnown(cmd *cobra.Command, args []string) error {
	if err := validateFormat(knownFormat); err != nil {
		return err
	}

	cmd.SilenceUsage = true

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := cfg.NewStore(logger)
	if err != nil {
		return fmt.Errorf("failed to open peripheral store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	// The coordinator is never started, so the radio is not opened
	radio, err := devicefactory.NewRadio(devicefactory.RadioOptions{ConnectTimeout: cfg.ConnectTimeout}, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE radio: %w", err)
	}
	opts, err := cfg.CoordinatorOptions(st, logger)
	if err != nil {
		return err
	}
	coord, err := central.New(radio, opts)
	if err != nil {
		return err
	}
	defer coord.Close()

	changed := false
	for _, id := range knownForget {
		if coord.RemovePeripheral(id) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Not known: %s\n", id)
			continue
		}
		changed = true
	}
	for _, id := range knownAdd {
		if _, _, ok := coord.FindPeripheral(id); ok {
			continue
		}
		if err := coord.AddPeripheral(id, ""); err != nil {
			return err
		}
		changed = true
	}

	if changed {
		if err := persistRegistry(cmd.ErrOrStderr(), coord); err != nil {
			return err
		}
	}

	format := knownFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	return writeRecords(cmd.OutOrStdout(), format, coord.Peripherals())
}
