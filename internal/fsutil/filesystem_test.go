package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteRenameRead(t *testing.T) {
	osfs := OSFileSystem{}
	dir := t.TempDir()

	tmp := filepath.Join(dir, "result.json.tmp")
	final := filepath.Join(dir, "result.json")
	if err := osfs.WriteFile(tmp, []byte(`{"code":0}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := osfs.Rename(tmp, final); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if osfs.Exists(tmp) {
		t.Error("temp file still present after rename")
	}

	data, err := osfs.ReadFile(final)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"code":0}` {
		t.Errorf("unexpected content %q", data)
	}

	entries, err := osfs.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "result.json" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	err := mfs.WriteFile("/test.txt", testData, 0644)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Mutating the returned slice must not change the stored file.
	data[0] = 'J'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != "hello, world" {
		t.Errorf("stored data was mutated: %q", again)
	}
}

func TestMemoryFileSystem_ReadDirSortedWithImplicitParents(t *testing.T) {
	mfs := NewMemoryFileSystem()

	for _, name := range []string{"/src/b.las", "/src/a.las", "/src/sub/c.las"} {
		if err := mfs.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", name, err)
		}
	}

	info, err := mfs.Stat("/src/sub")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected implicit parent to be a directory")
	}

	entries, err := mfs.ReadDir("/src")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"a.las", "b.las", "sub"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
	if !entries[2].IsDir() {
		t.Error("expected sub to be reported as a directory")
	}
}

func TestMemoryFileSystem_ReadDirMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.ReadDir("/nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_Rename(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/w/result.json", []byte("old"), 0644)
	_ = mfs.WriteFile("/w/result.json.tmp", []byte("new"), 0644)

	if err := mfs.Rename("/w/result.json.tmp", "/w/result.json"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	data, err := mfs.ReadFile("/w/result.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("expected replaced content, got %q", data)
	}
	if mfs.Exists("/w/result.json.tmp") {
		t.Error("old path still exists")
	}

	if err := mfs.Rename("/w/missing", "/w/x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing source, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAllAndRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", os.ModePerm); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}

	if err := mfs.Remove("/a/b"); err == nil {
		t.Error("expected error removing non-empty directory")
	}
	if err := mfs.Remove("/a/b/c"); err != nil {
		t.Errorf("Remove empty dir failed: %v", err)
	}
	if err := mfs.Remove("/a/b/c"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist on second remove, got %v", err)
	}
}

func TestMemoryFileSystem_StatMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Stat("/missing.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
