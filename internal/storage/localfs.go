package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystems on which SQLite file locking cannot be
// trusted.
var remoteFilesystems = map[string]bool{
	"nfs":    true,
	"cifs":   true,
	"smbfs":  true,
	"smb2":   true,
	"afpfs":  true,
	"webdav": true,
}

// requireLocalFilesystem fails when the database file, or the closest
// directory above it that exists, lives on a remote filesystem. fsType
// reports the filesystem name for a path; an empty name means unknown and
// is accepted.
func requireLocalFilesystem(path string, fsType func(string) (string, error)) error {
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	name, err := fsType(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFilesystems[strings.ToLower(strings.TrimSpace(name))] {
		return fmt.Errorf("database %q is on a %s filesystem; keep state.path on local disk", path, name)
	}
	return nil
}

func closestExisting(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent directory")
		}
		dir = parent
	}
}
