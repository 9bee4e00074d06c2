package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFS is returned when a database would live on a network mount,
// where sqlite file locking cannot be trusted.
var ErrNetworkFS = errors.New("database is on a network filesystem")

// fsProbe reports the filesystem name for an existing path.
type fsProbe func(path string) (string, error)

var remoteFSNames = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

func requireLocalDisk(path string) error {
	return requireLocalDiskWith(path, statfsType)
}

func requireLocalDiskWith(path string, probe fsProbe) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("sqlite path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	name, err := probe(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFS(name) {
		return fmt.Errorf("%w: %q is on %s; point journal.path (or SWITCHBOARD_JOURNAL_PATH) at local disk",
			ErrNetworkFS, path, name)
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists,
// so a journal in a not-yet-created directory is checked against its parent.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = up
	}
}

func remoteFS(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range remoteFSNames {
		if name == r {
			return true
		}
	}
	return false
}
