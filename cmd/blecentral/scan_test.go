package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (s *ScanTestSuite) TestScan_JSONListsOnlyKnownPeripherals() {
	// GOAL: Verify scan adds allow-listed peripherals in discovery order and drops the rest
	//
	// TEST SCENARIO: SensorA, Unknown, SensorB advertise → JSON lists SensorA at 0 and SensorB at 1

	s.PoweredRadio().EmitOnScan(
		s.Radio.FoundEvent("u1", "SensorA", -40),
		s.Radio.FoundEvent("u2", "Unknown", -50),
		s.Radio.FoundEvent("u3", "SensorB", -60),
	)

	stdout, _, err := s.ExecuteCommand(scanCmd, "--format", "json", "--duration", "20ms")

	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"index": 0, "identifier": "u1", "name": "SensorA", "state": "discovered", "rssi": -40, "last_seen": "<<PRESENCE>>"},
		{"index": 1, "identifier": "u3", "name": "SensorB", "state": "discovered", "rssi": -60, "last_seen": "<<PRESENCE>>"}
	]`)
	s.Radio.AssertCalled(s.T(), "StopScan")
}

func (s *ScanTestSuite) TestScan_RestoredPeripheralIsBoundOnDiscovery() {
	// GOAL: Verify a persisted identifier keeps its index and becomes Discovered when it advertises
	//
	// TEST SCENARIO: store holds u1, u9 → u1 advertises as SensorA → u1 keeps index 0 and gains its name, u9 stays a placeholder

	s.SeedStore("u9", "u1")
	s.PoweredRadio().EmitOnScan(s.Radio.FoundEvent("u1", "SensorA", -42))

	stdout, _, err := s.ExecuteCommand(scanCmd, "--format", "json", "--duration", "20ms")

	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"index": 0, "identifier": "u1", "name": "SensorA", "state": "discovered"},
		{"index": 1, "identifier": "u9", "state": "disconnected"}
	]`)
}

func (s *ScanTestSuite) TestScan_TableForRestoredPeripherals() {
	s.SeedStore("u9")
	s.PoweredRadio()

	stdout, _, err := s.ExecuteCommand(scanCmd, "--format", "table", "--duration", "10ms")

	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(stdout,
		"INDEX  NAME  IDENTIFIER  STATE         RSSI  LAST SEEN\n"+
			"0      -     u9          disconnected  -     -\n")
}

func (s *ScanTestSuite) TestScan_EmptyRegistry() {
	s.PoweredRadio()

	stdout, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms")

	s.Require().NoError(err)
	s.Equal("No peripherals known\n", stdout)
}

func (s *ScanTestSuite) TestScan_NameFlagExtendsKnownNames() {
	s.PoweredRadio().EmitOnScan(
		s.Radio.FoundEvent("u1", "SensorA", -40),
		s.Radio.FoundEvent("u2", "Thermo", -50),
	)

	stdout, _, err := s.ExecuteCommand(scanCmd, "--format", "json", "--duration", "20ms", "--name", "Thermo")

	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"identifier": "u1", "name": "SensorA"},
		{"identifier": "u2", "name": "Thermo"}
	]`)
}

func (s *ScanTestSuite) TestScan_ServicesFlagOverridesConfig() {
	s.WriteConfig("scan_services: [\"180f\"]\n")
	s.Radio.On("StartScan", []string{"180d"}, device.ScanOptions{}).Return(nil).Once()
	s.PoweredRadio()

	_, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms", "--services", "180d")

	s.Require().NoError(err)
	s.Radio.AssertCalled(s.T(), "StartScan", []string{"180d"}, device.ScanOptions{})
}

func (s *ScanTestSuite) TestScan_PersistSavesRegistry() {
	// GOAL: Verify --persist stores every identifier in the registry
	//
	// TEST SCENARIO: SensorA and SensorB found → scan --persist → store holds both, stderr reports the count

	s.PoweredRadio().EmitOnScan(
		s.Radio.FoundEvent("u1", "SensorA", -40),
		s.Radio.FoundEvent("u3", "SensorB", -60),
	)

	_, stderr, err := s.ExecuteCommand(scanCmd, "--duration", "20ms", "--persist")

	s.Require().NoError(err)
	s.Contains(stderr, "Saved 2 known peripheral(s)")
	s.Equal([]string{"u1", "u3"}, s.StoredIdentifiers(), "persisted set MUST match the registry")
}

func (s *ScanTestSuite) TestScan_WatchRendersDiscoveries() {
	s.PoweredRadio().EmitOnScan(s.Radio.FoundEvent("u1", "SensorA", -40))

	stdout, _, err := s.ExecuteCommand(scanCmd, "--watch", "--format", "json", "--duration", "60ms")

	s.Require().NoError(err)
	s.Contains(stdout, `"identifier": "u1"`, "watch mode MUST render discovered peripherals")
	s.NotContains(stdout, "\033[2J", "screen MUST NOT be cleared when output is not a terminal")
}

func (s *ScanTestSuite) TestScan_RadioPoweredOff() {
	// GOAL: Verify a powered-off radio fails the command with a hint instead of scanning
	//
	// TEST SCENARIO: radio reports PoweredOff on open → RadioUnavailable → StartScan never called

	s.Radio.EmitOnOpen(s.Radio.PowerEvent(device.PoweredOff)).Permissive()

	_, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms")

	s.Require().Error(err)
	s.ErrorIs(err, device.ErrRadioUnavailable)
	s.Contains(FormatUserError(err), "Bluetooth")
	s.Radio.AssertNotCalled(s.T(), "StartScan", mock.Anything, mock.Anything)
}

func (s *ScanTestSuite) TestScan_RadioNeverPowersOn() {
	powerOnTimeout = 20 * time.Millisecond
	s.Radio.Permissive()

	_, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms")

	s.ErrorIs(err, device.ErrRadioUnavailable, "power-on timeout MUST be reported as RadioUnavailable")
	s.Contains(err.Error(), "timed out waiting for radio")
}

func (s *ScanTestSuite) TestScan_StartScanFailure() {
	s.Radio.On("StartScan", mock.Anything, mock.Anything).Return(errors.New("adapter busy")).Once()
	s.PoweredRadio()

	_, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms")

	s.Require().Error(err)
	s.Contains(err.Error(), "failed to start scan: adapter busy")
}

func (s *ScanTestSuite) TestScan_OpenFailure() {
	s.Radio.On("Open", mock.Anything).Return(errors.New("no adapter")).Once()
	s.Radio.Permissive()

	_, _, err := s.ExecuteCommand(scanCmd, "--duration", "10ms")

	s.Require().Error(err)
	s.Contains(err.Error(), "failed to open radio: no adapter")
}

func (s *ScanTestSuite) TestScan_InvalidArguments() {
	s.Radio.Permissive()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "format", args: []string{"--format", "xml"}, wantErr: "invalid format 'xml'"},
		{name: "service", args: []string{"--services", "xyz"}, wantErr: "invalid service UUID"},
		{name: "log level", args: []string{"--log-level", "loud"}, wantErr: "invalid log level: loud"},
		{name: "positional", args: []string{"extra"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.ResetCommandFlags()

			_, _, err := s.ExecuteCommand(scanCmd, tt.args...)

			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
}

func (s *ScanTestSuite) TestScan_InvalidConfig() {
	s.WriteConfig("match_rule: fuzzy\n")
	s.Radio.Permissive()

	_, _, err := s.ExecuteCommand(scanCmd)

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid config")
	s.Radio.AssertNotCalled(s.T(), "Open", mock.Anything)
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
