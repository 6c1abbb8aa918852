package celltree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/skydb/internal/key"
)

func touchSchema(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "schema.cfg"), []byte("{}"), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestRecordAndCells(t *testing.T) {
	dir := t.TempDir()
	touchSchema(t, dir)
	c := &Cache{tableDir: dir, tableName: "stars", primaryCgroup: "astrometry"}
	cellA := key.New(1, 0).Cell()
	cellB := key.New(2, 0).Cell()
	if err := c.Record(cellA, Info{HasMain: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Record(cellB, Info{HasCached: true}); err != nil {
		t.Fatal(err)
	}

	mainOnly := c.Cells(false)
	if len(mainOnly) != 1 || mainOnly[0] != cellA {
		t.Fatalf("Cells(false) = %v, want [cellA]", mainOnly)
	}
	withCached := c.Cells(true)
	if len(withCached) != 2 {
		t.Fatalf("Cells(true) = %v, want both cells", withCached)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	touchSchema(t, dir)
	c := &Cache{tableDir: dir, tableName: "stars", primaryCgroup: "astrometry"}
	cellA := key.New(5, 0).Cell()
	if err := c.Record(cellA, Info{HasMain: true}); err != nil {
		t.Fatal(err)
	}

	c2 := &Cache{tableDir: dir, tableName: "stars", primaryCgroup: "astrometry"}
	if err := c2.load(); err != nil {
		t.Fatal(err)
	}
	if len(c2.Cells(false)) != 1 {
		t.Fatalf("reloaded cache missing cell: %v", c2.cells)
	}
}
