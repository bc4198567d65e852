package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRemove(t *testing.T) {
	root := filepath.Join(t.TempDir(), "temp")

	a, err := Create(root)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Create(root)
	if err != nil {
		t.Fatal(err)
	}
	if a.Path == b.Path {
		t.Fatalf("workspaces share a path: %s", a.Path)
	}
	if filepath.Dir(a.Path) != root {
		t.Errorf("workspace %s not under %s", a.Path, root)
	}

	if err := a.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Errorf("workspace still exists: %v", err)
	}
	if _, err := os.Stat(b.Path); err != nil {
		t.Errorf("other workspace affected: %v", err)
	}
}

func TestCopyIn(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws, err := Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.CopyIn(src); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(ws.Path, "data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("copied = %q", data)
	}

	if err := ws.CopyIn(src); err == nil {
		t.Error("expected copying over an existing file to fail")
	}
}

func TestWriteFile(t *testing.T) {
	ws, err := Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("../../escape.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "escape.txt")); err != nil {
		t.Errorf("file not written inside workspace: %v", err)
	}
	if err := ws.WriteFile("..", []byte("x")); err == nil {
		t.Error("expected invalid name to be rejected")
	}
}
