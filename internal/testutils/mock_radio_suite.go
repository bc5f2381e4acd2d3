package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/devicefactory"
)

// MockRadioSuite provides a reusable test suite with a mocked radio installed
// as the production radio factory.
//
// Basic usage:
//
//	type ScanSuite struct {
//	    testutils.MockRadioSuite
//	}
//
//	func (s *ScanSuite) TestSomething() {
//	    s.Radio.On("StartScan", mock.Anything, mock.Anything).Return(nil)
//	    s.Radio.Permissive()
//	    ...
//	}
//
//	func TestScanSuite(t *testing.T) {
//	    suite.Run(t, new(ScanSuite))
//	}
type MockRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Radio is recreated before every test and returned by devicefactory.RadioFactory
	Radio       *MockRadio
	TestTimeout time.Duration

	originalFactory func(devicefactory.RadioOptions, *logrus.Logger) (device.Radio, error)
}

// SetupSuite saves the production factory; it is restored via t.Cleanup.
func (s *MockRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second

	s.originalFactory = devicefactory.RadioFactory
	s.T().Cleanup(func() {
		devicefactory.RadioFactory = s.originalFactory
	})
}

// SetupTest installs a fresh MockRadio. Embedding suites that override
// SetupTest must call it.
func (s *MockRadioSuite) SetupTest() {
	s.Radio = NewMockRadio()
	radio := s.Radio
	devicefactory.RadioFactory = func(devicefactory.RadioOptions, *logrus.Logger) (device.Radio, error) {
		return radio, nil
	}
}

func (s *MockRadioSuite) TearDownTest() {
	devicefactory.RadioFactory = s.originalFactory
}

// WaitFor polls cond until it holds or TestTimeout expires
func (s *MockRadioSuite) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
