package tablet

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesPrimaryWithSeq(t *testing.T) {
	p := filepath.Join(t.TempDir(), "stars.astrometry.sktab")
	tb, err := Open(p, true, "id", []string{"spectrum"})
	if err != nil {
		t.Fatal(err)
	}
	if tb.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", tb.Seq)
	}
	if tb.Main.Blobs["spectrum"].Len() != 1 {
		t.Fatal("blob VLArray must start with just the sentinel")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "stars.astrometry.sktab")
	tb, err := Open(p, true, "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	tb.Main.Rows = append(tb.Main.Rows, Row{"id": uint64(1), "ra": 1.0})
	tb.Seq = 2
	if err := tb.Save(); err != nil {
		t.Fatal(err)
	}
	tb2, err := Open(p, true, "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tb2.Main.Rows) != 1 || tb2.Seq != 2 {
		t.Fatalf("reloaded tablet mismatch: %+v seq=%d", tb2.Main.Rows, tb2.Seq)
	}
}

func TestReadNegatesCachedBlobRefs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "stars.astrometry.sktab")
	tb, err := Open(p, true, "id", []string{"spectrum"})
	if err != nil {
		t.Fatal(err)
	}
	tb.Main.Rows = []Row{{"id": uint64(1), "spectrum": int64(1)}}
	tb.Cached.Rows = []Row{{"id": uint64(2), "spectrum": int64(3)}}

	rows := tb.Read(true, []string{"spectrum"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1]["spectrum"].(int64) != -3 {
		t.Fatalf("cached blob ref not negated: %v", rows[1]["spectrum"])
	}
	if rows[0]["spectrum"].(int64) != 1 {
		t.Fatalf("main blob ref must stay positive: %v", rows[0]["spectrum"])
	}
}

func TestDedupBatchIdentity(t *testing.T) {
	arr := NewBlobArray()
	shared := []byte("spectrum-data")
	values := []any{shared, shared, []byte("other"), nil}
	refs := DedupBatch(arr, values)
	if refs[0] != refs[1] {
		t.Fatalf("identical slice identity must dedup to the same ref: %v vs %v", refs[0], refs[1])
	}
	if refs[2] == refs[0] {
		t.Fatal("distinct value must not share a ref with the shared one")
	}
	if refs[3] != 0 {
		t.Fatalf("nil value must map to sentinel ref 0, got %d", refs[3])
	}
	if arr.Len() != 3 { // sentinel + 2 unique
		t.Fatalf("arr.Len() = %d, want 3", arr.Len())
	}
}

func TestDedupBatchNoIdentityNeverShares(t *testing.T) {
	arr := NewBlobArray()
	refs := DedupBatch(arr, []any{"same string", "same string"})
	if refs[0] == refs[1] {
		t.Fatal("value types with no pointer identity must never dedup, even if equal")
	}
}

func TestLoadRefsDedupAware(t *testing.T) {
	arr := NewBlobArray()
	arr.Append([]any{"a", "b", "c"})
	out, err := LoadRefs(arr, []int{1, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != "a" || out[1] != "a" || out[2] != "b" {
		t.Fatalf("unexpected broadcast: %v", out)
	}
}

func TestSplitRefsAndRecombine(t *testing.T) {
	mainAbs, cachedAbs, side, pos := SplitRefs([]int64{1, -2, 3, -4})
	if len(mainAbs) != 2 || len(cachedAbs) != 2 {
		t.Fatalf("split sizes wrong: main=%v cached=%v", mainAbs, cachedAbs)
	}
	mainVals := []any{"m1", "m3"}
	cachedVals := []any{"c2", "c4"}
	out := Recombine(mainVals, cachedVals, side, pos)
	if out[0] != "m1" || out[1] != "c2" || out[2] != "m3" || out[3] != "c4" {
		t.Fatalf("recombine mismatch: %v", out)
	}
}
