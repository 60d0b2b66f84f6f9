package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard keeps asset references inside the configured asset directory
type PathGuard struct {
	root string
}

// NewPathGuard creates a guard rooted at dir. The directory does not need to
// exist yet.
func NewPathGuard(dir string) (*PathGuard, error) {
	if dir == "" {
		return nil, fmt.Errorf("asset directory cannot be empty")
	}
	return &PathGuard{root: dir}, nil
}

// Root returns the asset directory
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve turns ref into an absolute path below the root. Relative references
// are joined to the root; anything escaping it is rejected.
func (g *PathGuard) Resolve(ref string) (string, error) {
	ref = strings.ReplaceAll(ref, "\x00", "")
	if ref == "" {
		return "", fmt.Errorf("asset reference cannot be empty")
	}
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(g.root, ref)
	}

	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	within, err := g.Contains(abs)
	if err != nil {
		return "", err
	}
	if !within {
		return "", fmt.Errorf("path is outside the asset directory: %s", ref)
	}
	return abs, nil
}

// Contains reports whether path lies within the root, following symlinks on
// both sides.
func (g *PathGuard) Contains(path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(g.root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve asset directory: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	cleanRoot := filepath.Clean(absRoot)

	realPath := cleanPath
	if resolved, err := filepath.EvalSymlinks(cleanPath); err == nil {
		realPath = resolved
	}
	realRoot := cleanRoot
	if resolved, err := filepath.EvalSymlinks(cleanRoot); err == nil {
		realRoot = resolved
	}

	under := func(p string) bool {
		for _, r := range []string{cleanRoot, realRoot} {
			if p == r || strings.HasPrefix(p, withSep(r)) {
				return true
			}
		}
		return false
	}
	return under(cleanPath) && under(realPath), nil
}

func withSep(dir string) string {
	if strings.HasSuffix(dir, string(os.PathSeparator)) {
		return dir
	}
	return dir + string(os.PathSeparator)
}
