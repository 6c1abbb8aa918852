package key

import "testing"

func TestNewAndParts(t *testing.T) {
	k := New(7, 42)
	if k.CellPart() != 7 {
		t.Fatalf("CellPart() = %d, want 7", k.CellPart())
	}
	if k.ObjPart() != 42 {
		t.Fatalf("ObjPart() = %d, want 42", k.ObjPart())
	}
	if k.IsBare() {
		t.Fatal("IsBare() = true, want false")
	}
}

func TestBareCellID(t *testing.T) {
	k := New(9, 0)
	if !k.IsBare() {
		t.Fatal("IsBare() = false, want true")
	}
	c := k.Cell()
	if c.CellPart() != 9 {
		t.Fatalf("CellPart() = %d, want 9", c.CellPart())
	}
	if c.WithObj(3) != New(9, 3) {
		t.Fatal("WithObj did not round-trip")
	}
}

func TestZero(t *testing.T) {
	var k Key
	if !k.IsZero() {
		t.Fatal("zero Key not IsZero")
	}
}
