package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/internal/device"
)

const fileFormatVersion = 1

// fileDocument is the on-disk YAML layout
type fileDocument struct {
	Version     int      `yaml:"version"`
	Peripherals []string `yaml:"peripherals"`
}

// FileStore keeps identifiers in a YAML file
type FileStore struct {
	path   string
	logger *logrus.Logger
}

// NewFileStore returns a store backed by path. The file is created on first Save.
func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the identifier set. A missing file yields an empty set.
func (f *FileStore) Load() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.WithField("path", f.path).Debug("No persisted peripherals yet")
		return []string{}, nil
	}
	if err != nil {
		return nil, &device.PersistError{Op: "load", Path: f.path, Err: err}
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &device.PersistError{Op: "load", Path: f.path, Err: fmt.Errorf("parsing peripherals file: %w", err)}
	}
	if doc.Version > fileFormatVersion {
		return nil, &device.PersistError{Op: "load", Path: f.path, Err: fmt.Errorf("unsupported file version %d", doc.Version)}
	}

	ids := NormalizeIdentifiers(doc.Peripherals)
	f.logger.WithFields(logrus.Fields{
		"path":  f.path,
		"count": len(ids),
	}).Debug("Loaded persisted peripherals")
	return ids, nil
}

// Save replaces the file atomically with the identifier set
func (f *FileStore) Save(identifiers []string) error {
	doc := fileDocument{
		Version:     fileFormatVersion,
		Peripherals: NormalizeIdentifiers(identifiers),
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".peripherals-*.yaml")
	if err != nil {
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return &device.PersistError{Op: "save", Path: f.path, Err: err}
	}

	f.logger.WithFields(logrus.Fields{
		"path":  f.path,
		"count": len(doc.Peripherals),
	}).Debug("Persisted peripherals")
	return nil
}
