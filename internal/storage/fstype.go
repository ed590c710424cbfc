package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystem types whose advisory locks cannot be
// trusted across hosts.
var remoteFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// Filesystem describes what backs a path.
type Filesystem struct {
	// Path is the existing path that was inspected: the path itself or its
	// nearest existing ancestor.
	Path   string
	Type   string
	Remote bool
}

// InspectFilesystem reports the filesystem holding path. A path that does not
// exist yet is judged by its nearest existing ancestor. On platforms without
// detection the error wraps errors.ErrUnsupported.
func InspectFilesystem(path string) (Filesystem, error) {
	return inspectWith(path, filesystemType)
}

func inspectWith(path string, typeOf func(string) (string, error)) (Filesystem, error) {
	existing, err := existingAncestor(path)
	if err != nil {
		return Filesystem{}, err
	}
	fsType, err := typeOf(existing)
	if err != nil {
		return Filesystem{Path: existing}, fmt.Errorf("filesystem of %s: %w", existing, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return Filesystem{Path: existing, Type: fsType, Remote: remoteFilesystems[fsType]}, nil
}

// requireLocalSQLite refuses a SQLite job table on a remote filesystem, where
// its file locking does not hold. Unknown filesystems are let through.
func requireLocalSQLite(path string, typeOf func(string) (string, error)) error {
	fs, err := inspectWith(path, typeOf)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite job table %s: %w", path, err)
	}
	if fs.Remote {
		return fmt.Errorf("sqlite job table %s is on %s, where SQLite locking is unreliable; "+
			"point store.dsn at local disk or use the mysql or postgres driver", path, fs.Type)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for p := abs; ; p = filepath.Dir(p) {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		case p == filepath.Dir(p):
			return "", fmt.Errorf("no existing ancestor of %s", abs)
		}
	}
}
