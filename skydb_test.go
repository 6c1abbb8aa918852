package skydb_test

import (
	"testing"

	"github.com/maruel/skydb"
	"github.com/maruel/skydb/internal/pixel"
	"github.com/maruel/skydb/internal/schema"
)

// newStarsTable builds a fresh table with one primary cgroup
// (id:u64 pk, ra:f64 lon, dec:f64 lat, spectrum:O8 blob) on a
// non-temporal reference pixelization, unless dt > 0.
func newStarsTable(t *testing.T, dt float64) (*skydb.Table, *pixel.Ring) {
	t.Helper()
	dir := t.TempDir()
	pix, err := pixel.NewRing(2, 0, dt)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := skydb.Create(skydb.Config{Path: dir, Level: 2, Dt: dt}, "stars", pix)
	if err != nil {
		t.Fatal(err)
	}
	err = tbl.CreateCgroup(schema.CgroupSchema{
		Name:       "astrometry",
		PrimaryKey: "id",
		SpatialLon: "ra",
		SpatialLat: "dec",
		Columns: []schema.ColumnDef{
			{Name: "id", DType: schema.DTypeU64},
			{Name: "ra", DType: schema.DTypeF64},
			{Name: "dec", DType: schema.DTypeF64},
			{Name: "spectrum", DType: schema.DTypeO8},
		},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	return tbl, pix
}

func TestCreateCgroupRejectsSecondPrimary(t *testing.T) {
	tbl, _ := newStarsTable(t, 0)
	err := tbl.CreateCgroup(schema.CgroupSchema{
		Name:       "other",
		PrimaryKey: "other_id",
		Columns:    []schema.ColumnDef{{Name: "other_id", DType: schema.DTypeU64}},
	}, false)
	if err == nil {
		t.Fatal("expected an error declaring a second primary cgroup")
	}
}

func TestOpenMissingTableIsNotFound(t *testing.T) {
	pix, _ := pixel.NewRing(2, 0, 0)
	_, err := skydb.Open(skydb.Config{Path: t.TempDir() + "/nope"}, pix)
	var apiErr *skydb.Error
	if err == nil {
		t.Fatal("expected an error")
	}
	if !asError(err, &apiErr) || apiErr.Kind != skydb.KindNotFound {
		t.Fatalf("got %v, want KindNotFound", err)
	}
}

func asError(err error, target **skydb.Error) bool {
	if e, ok := err.(*skydb.Error); ok {
		*target = e
		return true
	}
	return false
}

func TestTableKeyAccessors(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	if name := tbl.Name(); name != "stars" {
		t.Fatalf("Name() = %q, want stars", name)
	}
	if lon, lat, ok := tbl.SpatialKeys(); !ok || lon != "ra" || lat != "dec" {
		t.Fatalf("SpatialKeys() = %q, %q, %v", lon, lat, ok)
	}
	if pk, ok := tbl.PrimaryKey(); !ok || pk != "id" {
		t.Fatalf("PrimaryKey() = %q, %v", pk, ok)
	}
	_ = pix
}
