// Package workspace confines caller-supplied paths to a configured
// boundary before any filesystem operation runs.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace marks a path that resolves outside the workspace
// boundary, whether via dot-dot segments, an absolute override, or a
// symlink.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Resolve returns the absolute location of p inside root, or
// ErrOutsideWorkspace. Relative paths are joined to root; absolute paths
// are accepted only when already inside it. Symlinks along the existing
// portion of the path are followed before the containment check.
func Resolve(root, p string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	// Follow symlinks on the deepest ancestor that exists, so a link
	// inside the workspace cannot smuggle the path out.
	resolved, err := resolveExisting(target)
	if err != nil {
		return "", err
	}

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return target, nil
}

func resolveExisting(target string) (string, error) {
	dir := target
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return target, nil
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
	}
}
