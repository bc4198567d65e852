// Package workspace manages per-request host directories that are bound into
// the sandbox. Each directory belongs to exactly one execution.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir is a workspace directory owned by a single execution.
type Dir struct {
	Path string
}

// Create makes a fresh <root>/<uuid> directory.
func Create(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	path := filepath.Join(abs, uuid.NewString())
	// Mkdir fails if the path exists, so two executions never share it.
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	// The container user may differ from ours.
	if err := os.Chmod(path, 0o777); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("opening workspace permissions: %w", err)
	}
	return &Dir{Path: path}, nil
}

// CopyIn copies input files into the workspace under their base names.
func (d *Dir) CopyIn(paths ...string) error {
	for _, src := range paths {
		if err := copyFile(src, filepath.Join(d.Path, filepath.Base(src))); err != nil {
			return fmt.Errorf("copying %s: %w", src, err)
		}
	}
	return nil
}

// WriteFile stores data under a base name inside the workspace.
func (d *Dir) WriteFile(name string, data []byte) error {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return os.WriteFile(filepath.Join(d.Path, base), data, 0o644)
}

// Remove deletes the workspace and everything the script left in it.
func (d *Dir) Remove() error {
	return os.RemoveAll(d.Path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
