package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreContractSuite runs the persistence contract against one implementation
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
}

func (s *StoreContractSuite) TestLoad_FreshStoreIsEmpty() {
	// GOAL: Verify absence of persisted data is not an error
	//
	// TEST SCENARIO: Load on a never-written store → empty set, no error

	ids, err := s.store.Load()

	s.Require().NoError(err, "first-run load MUST NOT fail")
	s.NotNil(ids)
	s.Empty(ids)
}

func (s *StoreContractSuite) TestRoundTrip() {
	// GOAL: Verify load(save(S)) == S for arbitrary identifier sets including the empty set

	sets := [][]string{
		{},
		{"u1"},
		{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "aa:bb:cc:dd:ee:ff", "u2"},
	}

	for _, set := range sets {
		s.Require().NoError(s.store.Save(set))
		loaded, err := s.store.Load()
		s.Require().NoError(err)
		s.ElementsMatch(set, loaded, "round trip MUST preserve the identifier set")
	}
}

func (s *StoreContractSuite) TestSave_SetSemantics() {
	s.Require().NoError(s.store.Save([]string{"u2", "u1", "u2", " ", ""}))

	loaded, err := s.store.Load()

	s.Require().NoError(err)
	s.Equal([]string{"u1", "u2"}, loaded, "duplicates and blanks MUST be dropped")
}

func (s *StoreContractSuite) TestSave_ReplacesPreviousSet() {
	s.Require().NoError(s.store.Save([]string{"u1", "u2"}))
	s.Require().NoError(s.store.Save([]string{"u3"}))

	loaded, err := s.store.Load()

	s.Require().NoError(err)
	s.Equal([]string{"u3"}, loaded)
}

func TestMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) Store {
		return NewMemoryStore()
	}})
}

func TestFileStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		return NewFileStore(filepath.Join(t.TempDir(), "nested", "peripherals.yaml"), quietLogger())
	}})
}

func TestSQLiteStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "peripherals.db"), quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	}})
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peripherals.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peripherals: [unterminated"), 0o600))

	_, err := NewFileStore(path, quietLogger()).Load()

	assert.ErrorIs(t, err, device.ErrPersist, "parse failures MUST be reported as PersistError")
	var perr *device.PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)
	assert.Equal(t, path, perr.Path)
}

func TestFileStore_FutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peripherals.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nperipherals: [u1]\n"), 0o600))

	_, err := NewFileStore(path, quietLogger()).Load()

	assert.ErrorIs(t, err, device.ErrPersist)
	assert.ErrorContains(t, err, "unsupported file version 99")
}

func TestFileStore_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	err := NewFileStore(filepath.Join(blocker, "peripherals.yaml"), quietLogger()).Save([]string{"u1"})

	assert.ErrorIs(t, err, device.ErrPersist, "save into a non-directory MUST fail with PersistError")
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peripherals.db")

	st, err := NewSQLiteStore(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, st.Save([]string{"u1", "u2"}))
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(path, quietLogger())
	require.NoError(t, err)
	defer st.Close()

	ids, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
}

func TestNormalizeIdentifiers(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeIdentifiers(nil))
	assert.Equal(t, []string{"a", "b"}, NormalizeIdentifiers([]string{" b", "a", "b "}))
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, NormalizeIdentifiers([]string{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff "}),
		"identifiers differing only in case MUST collapse to one canonical entry")
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
