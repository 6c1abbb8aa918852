package skydb_test

import (
	"context"
	"testing"

	"github.com/maruel/skydb"
)

func TestFetchStaticFallback(t *testing.T) {
	tbl, pix := newStarsTable(t, 3600) // temporal axis enabled, 1-hour bins
	ctx := context.Background()

	out, err := tbl.Append(ctx, skydb.Columns{
		"ra":  {20.0},
		"dec": {20.0},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	k0 := out["id"][0].(skydb.Key)
	staticCell := pix.CellForID(k0)
	if pix.IsTemporalCell(staticCell) {
		t.Fatalf("expected a static cell from an append with no temporal key declared, got a temporal one")
	}

	// A temporal sibling of the same spatial bin, with no tablet of its
	// own, must fall back to the static cell's rows.
	tv := 1800.0
	temporalKey, err := pix.ObjIDFromPos(20.0, 20.0, &tv)
	if err != nil {
		t.Fatal(err)
	}
	temporalCell := pix.CellForID(temporalKey)
	if !pix.IsTemporalCell(temporalCell) {
		t.Fatal("expected a temporal cell")
	}
	if pix.StaticCellForCell(temporalCell) != staticCell {
		t.Fatal("temporal cell's static counterpart does not match the cell actually written")
	}

	rows, err := tbl.Fetch(temporalCell, "astrometry", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Fetch(temporalCell) returned %d rows, want 1 (static fallback)", len(rows))
	}
	if rows[0]["ra"] != 20.0 {
		t.Fatalf("row = %v, want ra=20", rows[0])
	}
}

func TestFetchPseudoCgroup(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	ctx := context.Background()

	out, err := tbl.Append(ctx, skydb.Columns{
		"ra":  {1.0, 2.0, 3.0},
		"dec": {1.0, 1.0, 1.0},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	k0 := out["id"][0].(skydb.Key)
	cell := pix.CellForID(k0)

	rows, err := tbl.Fetch(cell, "_PSEUDOCOLS", false)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		if r["_ROWIDX"] != uint64(i) {
			t.Fatalf("row %d: _ROWIDX = %v, want %d", i, r["_ROWIDX"], i)
		}
		if r["_CACHED"] != false {
			t.Fatalf("row %d: _CACHED = %v, want false", i, r["_CACHED"])
		}
	}
}

func TestFetchMissingTabletIsEmptyNotError(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	k, err := pix.ObjIDFromPos(123.0, -45.0, nil)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := tbl.Fetch(pix.CellForID(k), "astrometry", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("Fetch() on an empty cell returned %d rows, want 0", len(rows))
	}
}
