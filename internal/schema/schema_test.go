package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "schema.cfg"))
	return string(data), err
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "stars", 4, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateCgroupPrimary(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateCgroup(CgroupSchema{
		Name:       "astrometry",
		Columns:    []ColumnDef{{Name: "id", DType: DTypeU64}, {Name: "ra", DType: DTypeF64}, {Name: "dec", DType: DTypeF64}},
		PrimaryKey: "id",
		SpatialLon: "ra",
		SpatialLat: "dec",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.PrimaryCgroup() != "astrometry" {
		t.Fatalf("PrimaryCgroup() = %q", s.PrimaryCgroup())
	}
	pk, ok := s.PrimaryKey()
	if !ok || pk != "id" {
		t.Fatalf("PrimaryKey() = %q, %v", pk, ok)
	}
}

func TestSecondCgroupCannotDeclareKeys(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateCgroup(CgroupSchema{Name: "a", Columns: []ColumnDef{{Name: "id", DType: DTypeU64}}, PrimaryKey: "id"}, false); err != nil {
		t.Fatal(err)
	}
	err := s.CreateCgroup(CgroupSchema{Name: "b", Columns: []ColumnDef{{Name: "x", DType: DTypeF64}}, TemporalKey: "x"}, false)
	if err == nil {
		t.Fatal("expected error declaring temporal key on non-primary cgroup")
	}
}

func TestO8RewrittenToBlob(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateCgroup(CgroupSchema{
		Name:       "a",
		Columns:    []ColumnDef{{Name: "id", DType: DTypeU64}, {Name: "spectrum", DType: DTypeO8}},
		PrimaryKey: "id",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	dt, ok := s.ColumnDType("spectrum")
	if !ok || dt != DTypeI8 {
		t.Fatalf("spectrum dtype = %q, want i8", dt)
	}
	_, isBlob, _ := s.ColumnCgroup("spectrum")
	if !isBlob {
		t.Fatal("spectrum should be marked as blob")
	}
}

func TestResolveAliasBuiltins(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateCgroup(CgroupSchema{
		Name:       "a",
		Columns:    []ColumnDef{{Name: "id", DType: DTypeU64}, {Name: "ra", DType: DTypeF64}},
		PrimaryKey: "id",
		SpatialLon: "ra",
	}, false); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveAlias("_ID"); got != "id" {
		t.Fatalf("_ID resolved to %q", got)
	}
	if got := s.ResolveAlias("_LAT"); got != "_LAT" {
		t.Fatalf("_LAT should resolve to itself (no spatial lat declared), got %q", got)
	}
	if got := s.ResolveAlias("already_canonical"); got != "already_canonical" {
		t.Fatalf("unknown name must be a no-op, got %q", got)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "stars", 4, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCgroup(CgroupSchema{Name: "a", Columns: []ColumnDef{{Name: "id", DType: DTypeU64}}, PrimaryKey: "id"}, false); err != nil {
		t.Fatal(err)
	}
	s2, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s2.PrimaryCgroup() != "a" {
		t.Fatalf("reloaded PrimaryCgroup() = %q", s2.PrimaryCgroup())
	}
	if len(s2.CgroupOrder()) != 1 {
		t.Fatalf("reloaded cgroup count = %d", len(s2.CgroupOrder()))
	}
}

func TestPseudoCgroupCannotBeDeclared(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateCgroup(CgroupSchema{Name: "_PSEUDOCOLS", Columns: nil}, false)
	if err == nil || !strings.Contains(err.Error(), "pseudo-cgroup") {
		t.Fatalf("expected pseudo-cgroup rejection, got %v", err)
	}
}

func TestAlphabeticalKeyOrder(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, "stars", 4, 0, 0); err != nil {
		t.Fatal(err)
	}
	data, err := readFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	// aliases must precede cgroups must precede dt, alphabetically.
	if strings.Index(data, `"aliases"`) > strings.Index(data, `"cgroups"`) {
		t.Fatal("aliases must be written before cgroups")
	}
	if strings.Index(data, `"cgroups"`) > strings.Index(data, `"dt"`) {
		t.Fatal("cgroups must be written before dt")
	}
}
