package skydb

import "github.com/maruel/skydb/internal/key"

// Key is a row's primary key: cell_part (upper 32 bits) | obj_part (lower
// 32 bits). Aliased from internal/key so external callers never need to
// import an internal package to hold one.
type Key = key.Key

// CellID identifies a cell: always a bare Key (ObjPart() == 0).
type CellID = key.CellID

// Pixelization maps spatial (and optionally temporal) coordinates to cells
// and back. It is the one collaborator spec.md treats as wholly external;
// internal/pixel.Ring is a concrete, swappable implementation of it.
//
// Implementations must be safe for concurrent use; Table never holds a
// Pixelization across a lock boundary longer than a single call.
type Pixelization interface {
	Level() int
	T0() float64
	Dt() float64

	// CellForID returns the cell a key belongs to.
	CellForID(k Key) CellID
	// IsCellID reports whether k is a bare cell-ID (ObjPart == 0, valid CellPart).
	IsCellID(k Key) bool
	// ObjIDFromPos computes the bare cell-ID key for a spatial position,
	// optionally refined by a temporal value.
	ObjIDFromPos(lon, lat float64, t *float64) (Key, error)
	// IsTemporalCell reports whether c was split along the temporal axis.
	IsTemporalCell(c CellID) bool
	// StaticCellForCell returns the non-temporal counterpart of c.
	StaticCellForCell(c CellID) CellID
	// PathToCell returns the on-disk directory fragment for a cell.
	PathToCell(c CellID) string
	// IDForCellI returns the full key for object index idx within cell c.
	IDForCellI(c CellID, idx uint32) Key
}
