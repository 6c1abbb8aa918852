// Package key implements the bit-packed primary key used to address rows
// and cells: the upper 32 bits identify the cell a row belongs to, the
// lower 32 bits identify the row within that cell.
package key

import "fmt"

// Key is a row's primary key: cell_part (upper 32 bits) | obj_part (lower 32 bits).
type Key uint64

// CellID identifies a cell. It is always a bare Key: ObjPart() == 0.
type CellID uint64

// New packs a cell part and an object part into a Key.
func New(cellPart, objPart uint32) Key {
	return Key(uint64(cellPart)<<32 | uint64(objPart))
}

// CellPart returns the upper 32 bits.
func (k Key) CellPart() uint32 {
	return uint32(uint64(k) >> 32)
}

// ObjPart returns the lower 32 bits.
func (k Key) ObjPart() uint32 {
	return uint32(uint64(k))
}

// IsBare reports whether k has a zero ObjPart (a bare cell-ID with no row index).
func (k Key) IsBare() bool {
	return k.ObjPart() == 0
}

// IsZero reports whether k is the all-zero key.
func (k Key) IsZero() bool {
	return k == 0
}

// Cell returns the CellID this key belongs to (ObjPart stripped).
func (k Key) Cell() CellID {
	return CellID(New(k.CellPart(), 0))
}

// Key reinterprets a CellID as a bare Key, for APIs that accept either.
func (c CellID) Key() Key {
	return Key(c)
}

// CellPart returns the upper 32 bits.
func (c CellID) CellPart() uint32 {
	return Key(c).CellPart()
}

// WithObj returns the full Key for object index idx within cell c.
func (c CellID) WithObj(idx uint32) Key {
	return New(c.CellPart(), idx)
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.CellPart(), k.ObjPart())
}

func (c CellID) String() string {
	return fmt.Sprintf("cell:%d", c.CellPart())
}
