package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStage(t *testing.T) {
	dir := t.TempDir()
	policy := DefaultPolicy()
	script := "print('héllo wörld')\n"

	gotDir, name, err := Stage(dir, script, policy)
	if err != nil {
		t.Fatal(err)
	}
	if gotDir != dir {
		t.Errorf("dir = %q, want %q", gotDir, dir)
	}
	if !strings.HasPrefix(name, "script_") || !strings.HasSuffix(name, ".py") {
		t.Errorf("name = %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != script {
		t.Errorf("content = %q, want %q", data, script)
	}
}

func TestStage_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, name, err := Stage(dir, "pass", DefaultPolicy())
		if err != nil {
			t.Fatal(err)
		}
		if seen[name] {
			t.Fatalf("duplicate script name %q", name)
		}
		seen[name] = true
	}
}

func TestStage_ResolvesRelativeWorkspace(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.Mkdir("ws", 0o755); err != nil {
		t.Fatal(err)
	}

	gotDir, _, err := Stage("ws", "pass", DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(gotDir) {
		t.Errorf("dir %q is not absolute", gotDir)
	}
}

func TestStage_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		workspace string
		script    string
	}{
		{"empty workspace", "", "pass"},
		{"missing workspace", filepath.Join(dir, "nope"), "pass"},
		{"workspace is a file", file, "pass"},
		{"invalid utf-8", dir, "print('\xff\xfe')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Stage(tt.workspace, tt.script, DefaultPolicy())
			if !IsKind(err, KindWorkspaceIO) {
				t.Fatalf("expected workspace io, got %v", err)
			}
		})
	}
}

// failingFile writes through to a real file but can fail on write or close.
type failingFile struct {
	f        *os.File
	writeErr error
	closeErr error
}

func (w *failingFile) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		n, _ := w.f.Write(p[:len(p)/2])
		return n, w.writeErr
	}
	return w.f.Write(p)
}

func (w *failingFile) Close() error {
	w.f.Close()
	return w.closeErr
}

func TestWriteScript_RemovesPartialFile(t *testing.T) {
	tests := []struct {
		name     string
		writeErr error
		closeErr error
	}{
		{name: "write fails", writeErr: errors.New("no space left on device")},
		{name: "close fails", closeErr: errors.New("input/output error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "script_x.py")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}

			err = writeScript(&failingFile{f: f, writeErr: tt.writeErr, closeErr: tt.closeErr}, path, "print('partial')\n")
			if !IsKind(err, KindWorkspaceIO) {
				t.Fatalf("kind = %s, want %s (err %v)", KindOf(err), KindWorkspaceIO, err)
			}
			if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("partial script left behind: stat err = %v", err)
			}
		})
	}
}
