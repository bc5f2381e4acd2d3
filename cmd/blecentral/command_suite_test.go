package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/store"
	"github.com/srg/blecentral/internal/testutils"
)

// CommandTestSuite extends MockRadioSuite with command testing utilities.
// Every test gets a temporary HOME, a configuration file and a YAML store.
type CommandTestSuite struct {
	testutils.MockRadioSuite

	ConfigPath string
	StorePath  string

	originalPowerOnTimeout       time.Duration
	originalWatchRefreshInterval time.Duration
}

func (s *CommandTestSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()

	dir := s.T().TempDir()
	s.T().Setenv("HOME", dir)
	s.ConfigPath = filepath.Join(dir, "config.yaml")
	s.StorePath = filepath.Join(dir, "peripherals.yaml")
	s.WriteConfig("")

	s.originalPowerOnTimeout = powerOnTimeout
	s.originalWatchRefreshInterval = watchRefreshInterval
	powerOnTimeout = s.TestTimeout
	watchRefreshInterval = 10 * time.Millisecond

	s.ResetCommandFlags()
}

// ResetCommandFlags gives every subcommand a fresh flag set so values parsed
// by a previous test cannot leak
func (s *CommandTestSuite) ResetCommandFlags() {
	resetScanFlags()
	scanCmd.ResetFlags()
	initScanFlags()
	resetConnectFlags()
	connectCmd.ResetFlags()
	initConnectFlags()
	resetKnownFlags()
	knownCmd.ResetFlags()
	initKnownFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	powerOnTimeout = s.originalPowerOnTimeout
	watchRefreshInterval = s.originalWatchRefreshInterval
	s.MockRadioSuite.TearDownTest()
}

// WriteConfig writes the test configuration; extra is appended verbatim and
// must not repeat a key of the base document.
func (s *CommandTestSuite) WriteConfig(extra string) {
	doc := fmt.Sprintf(`log_level: error
known_names: [SensorA, SensorB]
scan_timeout: 50ms
connect_timeout: 1s
store:
  kind: yaml
  path: %s
%s`, s.StorePath, extra)
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(doc), 0o600))
}

// PoweredRadio makes the mock radio report PoweredOn when opened and accept every request
func (s *CommandTestSuite) PoweredRadio() *testutils.MockRadio {
	return s.Radio.EmitOnOpen(s.Radio.PowerEvent(device.PoweredOn)).Permissive()
}

// SeedStore persists identifiers as if saved by an earlier run
func (s *CommandTestSuite) SeedStore(ids ...string) {
	s.Require().NoError(store.NewFileStore(s.StorePath, testutils.QuietLogger()).Save(ids))
}

// StoredIdentifiers loads the identifiers currently persisted
func (s *CommandTestSuite) StoredIdentifiers() []string {
	ids, err := store.NewFileStore(s.StorePath, testutils.QuietLogger()).Load()
	s.Require().NoError(err)
	return ids
}

// ExecuteCommand runs sub under a fresh root with the test configuration and
// returns what it wrote to stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(sub *cobra.Command, args ...string) (stdout, stderr string, err error) {
	root := &cobra.Command{Use: "blecentral", SilenceErrors: true}
	addGlobalFlags(root)
	root.AddCommand(sub)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	root.SetOut(outBuf)
	root.SetErr(errBuf)
	root.SetArgs(append([]string{sub.Name(), "--config", s.ConfigPath}, args...))

	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}
