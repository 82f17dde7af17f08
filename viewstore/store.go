// Package viewstore persists per-device init fragments: the artifact a
// device publishes once at bring-up that backs its detail view. The
// aggregation engine only consumes it as an existence predicate.
package viewstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
)

// Store is a file-backed init fragment store, one file per device
type Store struct {
	dir string
}

// New creates the store, ensuring the backing directory exists
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "ViewStore", "New", "create directory")
	}
	return &Store{dir: dir}, nil
}

// Exists reports whether a device has published an init fragment
func (s *Store) Exists(deviceID string) bool {
	_, err := os.Stat(s.path(deviceID))
	return err == nil
}

// Save persists a device's init fragment, replacing any previous one
func (s *Store) Save(deviceID string, fragment []byte) error {
	if sanitize(deviceID) == "" {
		return errors.WrapInvalid(errors.ErrUnknownDevice, "ViewStore", "Save", "empty device id")
	}
	if err := os.WriteFile(s.path(deviceID), fragment, 0o644); err != nil {
		return errors.Wrap(err, "ViewStore", "Save", "fragment write")
	}
	return nil
}

// Load returns a device's init fragment
func (s *Store) Load(deviceID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(deviceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrViewNotFound
		}
		return nil, errors.Wrap(err, "ViewStore", "Load", "fragment read")
	}
	return data, nil
}

// path maps a device id onto a file under the store directory. Ids arrive
// from the network, so everything outside [A-Za-z0-9._-] is stripped before
// touching the filesystem.
func (s *Store) path(deviceID string) string {
	return filepath.Join(s.dir, sanitize(deviceID)+".html")
}

func sanitize(deviceID string) string {
	var b strings.Builder
	for _, ch := range deviceID {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '_' || ch == '-' || ch == '.':
			b.WriteRune(ch)
		}
	}
	return b.String()
}
