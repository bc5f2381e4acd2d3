package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/registry"
)

// recordView is the JSON shape of one registry row
type recordView struct {
	Index      int                    `json:"index"`
	Identifier string                 `json:"identifier"`
	Name       string                 `json:"name,omitempty"`
	State      device.ConnectionState `json:"state"`
	RSSI       int                    `json:"rssi,omitempty"`
	LastSeen   *time.Time             `json:"last_seen,omitempty"`
}

func toViews(recs []registry.Record) []recordView {
	views := make([]recordView, 0, len(recs))
	for i, rec := range recs {
		v := recordView{
			Index:      i,
			Identifier: rec.Identifier,
			Name:       rec.Name,
			State:      rec.State,
			RSSI:       rec.RSSI,
		}
		if !rec.LastSeen.IsZero() {
			seen := rec.LastSeen
			v.LastSeen = &seen
		}
		views = append(views, v)
	}
	return views
}

// writeRecords renders the registry in the requested format
func writeRecords(w io.Writer, format string, recs []registry.Record) error {
	if format == "json" {
		return writeJSON(w, toViews(recs))
	}
	return writeRecordsTable(w, recs, time.Now(), isTerminal(w))
}

func writeRecordsTable(w io.Writer, recs []registry.Record, now time.Time, colored bool) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No peripherals known")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tIDENTIFIER\tSTATE\tRSSI\tLAST SEEN")

	for i, rec := range recs {
		name := rec.Name
		if name == "" {
			name = "-"
		} else if len(name) > 20 {
			name = name[:17] + "..."
		}

		rssi := "-"
		if rec.RSSI != 0 {
			rssi = fmt.Sprintf("%d dBm", rec.RSSI)
		}

		lastSeen := "-"
		if !rec.LastSeen.IsZero() {
			lastSeen = fmt.Sprintf("%s ago", now.Sub(rec.LastSeen).Truncate(time.Second))
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i, name, rec.Identifier, stateLabel(rec.State, colored), rssi, lastSeen)
	}
	return tw.Flush()
}

func stateLabel(state device.ConnectionState, colored bool) string {
	if !colored {
		return state.String()
	}

	var c *color.Color
	switch state {
	case device.Connected:
		c = color.New(color.FgGreen, color.Bold)
	case device.Connecting, device.Disconnecting:
		c = color.New(color.FgYellow)
	case device.Discovered:
		c = color.New(color.FgCyan)
	default:
		c = color.New(color.FgHiBlack)
	}
	c.EnableColor()
	return c.Sprint(state.String())
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
