package pathcache

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadSharesMemoryArea(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/a.o", []byte("object bytes"), 0o644)

	c := New(fs)
	a1, err := c.Load("/a.o")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := c.Load("/a.o")
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Error("want the same *MemoryArea for repeated loads of the same resolved path")
	}
	if string(a1.Data) != "object bytes" {
		t.Errorf("unexpected data: %q", a1.Data)
	}
}

func TestMappingFileRedirects(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/cache/deadbeef.o", []byte("real contents"), 0o644)
	afero.WriteFile(fs, "/mapping.ini", []byte("[objects]\n/orig/a.o=/cache/deadbeef.o\n"), 0o644)

	c := New(fs)
	if err := c.LoadMappingFile("/mapping.ini"); err != nil {
		t.Fatal(err)
	}

	if got := c.Resolve("/orig/a.o"); got != "/cache/deadbeef.o" {
		t.Errorf("want redirected path, got %q", got)
	}

	a, err := c.Load("/orig/a.o")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Data) != "real contents" {
		t.Errorf("unexpected data: %q", a.Data)
	}
}

func TestLoadMissingMappedFileErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/mapping.ini", []byte("[objects]\n/orig/a.o=/cache/missing.o\n"), 0o644)

	c := New(fs)
	if err := c.LoadMappingFile("/mapping.ini"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load("/orig/a.o"); err == nil {
		t.Error("want error loading a mapped file that does not exist")
	}
}

func TestSHA256Stable(t *testing.T) {
	a := &MemoryArea{Data: []byte("hello")}
	h1 := a.SHA256()
	h2 := a.SHA256()
	if h1 != h2 {
		t.Error("want stable hash across calls")
	}
	if len(h1) != 64 {
		t.Errorf("want 64 hex chars, got %d", len(h1))
	}
}
