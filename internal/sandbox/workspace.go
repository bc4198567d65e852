package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Stage writes the script into the workspace under a unique name and returns
// the absolute workspace directory and the script file name.
func Stage(workspace, script string, policy Policy) (dir, name string, err error) {
	if workspace == "" {
		return "", "", newError(KindWorkspaceIO, "stage", nil, "workspace path is required")
	}
	dir, err = filepath.Abs(workspace)
	if err != nil {
		return "", "", newError(KindWorkspaceIO, "stage", err, "resolving workspace %q", workspace)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", "", newError(KindWorkspaceIO, "stage", err, "workspace %q", dir)
	}
	if !info.IsDir() {
		return "", "", newError(KindWorkspaceIO, "stage", nil, "workspace %q is not a directory", dir)
	}
	if !utf8.ValidString(script) {
		return "", "", newError(KindWorkspaceIO, "stage", nil, "script is not valid UTF-8")
	}

	name = policy.ScriptPrefix + uuid.NewString() + policy.ScriptExt
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", newError(KindWorkspaceIO, "stage", err, "creating script file")
	}
	if err := writeScript(f, path, script); err != nil {
		return "", "", err
	}
	return dir, name, nil
}

// writeScript writes and closes the script file. A file that could not be
// fully written is removed so no partial script stays in the workspace.
func writeScript(f io.WriteCloser, path, script string) error {
	if _, err := io.WriteString(f, script); err != nil {
		f.Close()
		os.Remove(path)
		return newError(KindWorkspaceIO, "stage", err, "writing script file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return newError(KindWorkspaceIO, "stage", err, "closing script file")
	}
	return nil
}

// scriptCommand is the container command for a staged script.
func scriptCommand(policy Policy, name string) []string {
	cmd := make([]string, 0, len(policy.Command)+1)
	cmd = append(cmd, policy.Command...)
	return append(cmd, name)
}

func containerName() string {
	return fmt.Sprintf("scriptbox-%s", uuid.NewString())
}
