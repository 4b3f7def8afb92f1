// Package fsys resolves the virtual working directories of control sessions
// against a directory on the local filesystem.
package fsys

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// ErrNotFound is returned when a name does not resolve to an existing
// directory.
var ErrNotFound = errors.New("no such directory")

// Join resolves name against the virtual directory cwd and returns a clean,
// absolute virtual path. Paths can never climb above "/".
//
// Parameters:
//   - cwd: The current virtual directory
//   - name: An absolute or relative name supplied by the client
//
// Returns:
//   - The cleaned virtual path
func Join(cwd, name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}

	if cwd == "" {
		cwd = "/"
	}

	return path.Clean(path.Join("/", cwd, name))
}

// OSResolver maps virtual paths onto a root directory of the local
// filesystem. It is safe for concurrent use; it holds no mutable state.
type OSResolver struct {
	root string
}

// NewOSResolver creates an OSResolver rooted at dir.
//
// Parameters:
//   - dir: Root directory; must exist and be a directory
//
// Returns:
//   - The resolver, or an error if dir is not a usable directory
func NewOSResolver(dir string) (*OSResolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", abs, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	return &OSResolver{root: abs}, nil
}

// Root returns the absolute root directory.
func (r *OSResolver) Root() string {
	return r.root
}

// ResolveDir resolves name against cwd and checks that the result is an
// existing directory under the root.
//
// Returns:
//   - The new virtual directory
//   - ErrNotFound if it does not exist or is not a directory
func (r *OSResolver) ResolveDir(cwd, name string) (string, error) {
	virtual := Join(cwd, name)
	info, err := os.Stat(r.LocalPath(virtual))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return "", fmt.Errorf("%s: %w", virtual, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", virtual, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", virtual, ErrNotFound)
	}

	return virtual, nil
}

// LocalPath maps a clean virtual path to a path on the local filesystem.
func (r *OSResolver) LocalPath(virtual string) string {
	return filepath.Join(r.root, filepath.FromSlash(path.Clean("/"+virtual)))
}
