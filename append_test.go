package skydb_test

import (
	"context"
	"testing"

	"github.com/maruel/skydb"
)

func TestAppendAssignsCellsAndObjParts(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	ctx := context.Background()

	out, err := tbl.Append(ctx, skydb.Columns{
		"ra":  {0.0, 180.0},
		"dec": {0.0, 45.0},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ids, ok := out["id"]
	if !ok || len(ids) != 2 {
		t.Fatalf("out[%q] = %v", "id", ids)
	}
	for i, v := range ids {
		k := v.(skydb.Key)
		if k.ObjPart() == 0 {
			t.Fatalf("row %d: obj_part == 0, want > 0", i)
		}
		if pix.CellForID(k) != k.Cell() {
			t.Fatalf("row %d: CellForID mismatch", i)
		}
	}
	if tbl.NRows() != 2 {
		t.Fatalf("NRows() = %d, want 2", tbl.NRows())
	}

	k0 := ids[0].(skydb.Key)
	rows, err := tbl.Fetch(pix.CellForID(k0), "astrometry", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Fetch() returned %d rows, want 1", len(rows))
	}
	if rows[0]["ra"] != 0.0 || rows[0]["dec"] != 0.0 {
		t.Fatalf("row = %v, want ra=0 dec=0", rows[0])
	}
}

func TestAppendUpdateOverlay(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	ctx := context.Background()

	out, err := tbl.Append(ctx, skydb.Columns{
		"ra":  {0.0},
		"dec": {0.0},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	k0 := out["id"][0].(skydb.Key)

	_, err = tbl.Append(ctx, skydb.Columns{
		"id":  {k0},
		"ra":  {10.0},
		"dec": {10.0},
	}, skydb.AppendOptions{Update: true})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NRows() != 1 {
		t.Fatalf("NRows() = %d, want 1 (update must not change nrows)", tbl.NRows())
	}

	rows, err := tbl.Fetch(pix.CellForID(k0), "astrometry", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Fetch() returned %d rows, want 1", len(rows))
	}
	if rows[0]["ra"] != 10.0 || rows[0]["dec"] != 10.0 {
		t.Fatalf("row = %v, want the overlaid ra=10 dec=10", rows[0])
	}
}

func TestAppendBlobIdentityDedup(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	ctx := context.Background()

	shared := []byte{1, 2, 3}
	out, err := tbl.Append(ctx, skydb.Columns{
		"ra":       {1.0, 1.0, 1.0},
		"dec":      {1.0, 1.0, 1.0},
		"spectrum": {shared, shared, shared},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	k0 := out["id"][0].(skydb.Key)

	rows, err := tbl.Fetch(pix.CellForID(k0), "astrometry", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("Fetch() returned %d rows, want 3", len(rows))
	}
	ref0 := rows[0]["spectrum"].(int64)
	for i, r := range rows {
		if r["spectrum"].(int64) != ref0 {
			t.Fatalf("row %d: spectrum ref = %v, want %v (identity dedup)", i, r["spectrum"], ref0)
		}
	}
	if ref0 == 0 {
		t.Fatal("spectrum ref is the sentinel, want a real appended reference")
	}

	blobs, err := tbl.FetchBlobs(pix.CellForID(k0), "spectrum", []int64{ref0}, false)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := blobs[0].([]byte)
	if !ok || string(got) != string(shared) {
		t.Fatalf("FetchBlobs()[0] = %v, want %v", blobs[0], shared)
	}
}

func TestAppendCachedGroupWithExplicitCellID(t *testing.T) {
	tbl, pix := newStarsTable(t, 0)
	ctx := context.Background()

	main, err := tbl.Append(ctx, skydb.Columns{
		"ra":  {5.0},
		"dec": {5.0},
	}, skydb.AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	k0 := main["id"][0].(skydb.Key)
	cell := pix.CellForID(k0)

	neighborID := pix.CellForID(k0).WithObj(99)
	shared := []byte{9, 9}
	if _, err := tbl.Append(ctx, skydb.Columns{
		"id":       {neighborID},
		"ra":       {5.1},
		"dec":      {5.1},
		"spectrum": {shared},
	}, skydb.AppendOptions{Group: "cached", CellID: cellPtr(cell)}); err != nil {
		t.Fatal(err)
	}

	rows, err := tbl.Fetch(cell, "astrometry", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("Fetch(includeCached=true) returned %d rows, want 2", len(rows))
	}
	cachedRow := rows[1]
	ref, ok := cachedRow["spectrum"].(int64)
	if !ok || ref >= 0 {
		t.Fatalf("cached row spectrum ref = %v, want a negative reference", cachedRow["spectrum"])
	}
	blobs, err := tbl.FetchBlobs(cell, "spectrum", []int64{ref}, true)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := blobs[0].([]byte)
	if !ok || string(got) != string(shared) {
		t.Fatalf("FetchBlobs() for cached ref = %v, want %v", blobs[0], shared)
	}
}

func cellPtr(c skydb.CellID) *skydb.CellID { return &c }
