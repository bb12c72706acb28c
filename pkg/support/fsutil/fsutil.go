// Package fsutil contains utilities for working with the paths given in configuration files.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file exists, or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to check whether %q exists", path)
}

// ExpandHome replaces a leading "~" or "~user" by the user's home directory.
// Paths not starting with "~" are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// Resolve expands the home directory of path and, if it is relative, makes it relative to
// the directory baseDir (typically the directory of the configuration file that named it).
// An empty path is returned unchanged.
func Resolve(baseDir, path string) (string, error) {
	if path == "" {
		return path, nil
	}
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) || baseDir == "" {
		return path, nil
	}
	return filepath.Join(baseDir, path), nil
}
