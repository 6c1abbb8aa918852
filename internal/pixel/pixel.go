// Package pixel defines the pixelization contract the core table engine
// consumes (see the Pixelization interface in the root package) and
// supplies one reference implementation: a simple sky binning into
// equal-width longitude/latitude rings (equal in degrees, not in area),
// optionally refined by a fixed-width temporal axis.
//
// The query engine, coordinate conventions, and cell-path layout are
// external collaborators of the core; Ring exists so the module builds
// and tests end to end without depending on an external pixelization
// library.
package pixel

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/maruel/skydb/internal/key"
)

// Pixelization maps spatial (and optionally temporal) coordinates to cells
// and back. Implementations must be safe for concurrent use.
type Pixelization interface {
	Level() int
	T0() float64
	Dt() float64

	// CellForID returns the cell a key belongs to.
	CellForID(k key.Key) key.CellID
	// IsCellID reports whether k is a bare cell-ID (ObjPart == 0, valid CellPart).
	IsCellID(k key.Key) bool
	// ObjIDFromPos computes the bare cell-ID key for a spatial position,
	// optionally refined by a temporal value.
	ObjIDFromPos(lon, lat float64, t *float64) (key.Key, error)
	// IsTemporalCell reports whether c was split along the temporal axis.
	IsTemporalCell(c key.CellID) bool
	// StaticCellForCell returns the non-temporal counterpart of c.
	StaticCellForCell(c key.CellID) key.CellID
	// PathToCell returns the on-disk directory fragment for a cell.
	PathToCell(c key.CellID) string
	// IDForCellI returns the full key for object index idx within cell c.
	IDForCellI(c key.CellID, idx uint32) key.Key
}

// Ring is a reference Pixelization: longitude/latitude are binned into
// 4*2^level longitude rings by 2*2^level latitude rings, then folded with a
// temporal bin of width Dt starting at T0 (Dt <= 0 disables the temporal
// axis: every cell is "static").
//
// The resulting 32-bit cell part packs (latRing, lonRing, timeBin) with
// latRing in the high bits, so PathToCell groups cells that are spatially
// close into adjacent directory names.
type Ring struct {
	level int
	t0    float64
	dt    float64

	lonRings int
	latRings int
}

// NewRing builds a reference pixelization at the given level (0 to 12, or
// 0 to 8 when the temporal axis is enabled, so the spatial index plus the
// time bin fit in the 32-bit cell part) with the temporal axis disabled
// (dt <= 0) or binned at width dt starting at t0.
func NewRing(level int, t0, dt float64) (*Ring, error) {
	if level < 0 || level > 12 {
		return nil, fmt.Errorf("pixel: level %d out of range [0,12]", level)
	}
	if dt > 0 && level > 8 {
		return nil, fmt.Errorf("pixel: level %d out of range [0,8] with the temporal axis enabled", level)
	}
	return &Ring{
		level:    level,
		t0:       t0,
		dt:       dt,
		lonRings: 4 << level,
		latRings: 2 << level,
	}, nil
}

func (r *Ring) Level() int  { return r.level }
func (r *Ring) T0() float64 { return r.t0 }
func (r *Ring) Dt() float64 { return r.dt }

// temporal reports whether the temporal axis is active.
func (r *Ring) temporal() bool { return r.dt > 0 }

const timeBinBits = 12 // low bits of cell_part reserved for the temporal bin when active

// staticTimeBin is a reserved sentinel time-bin value meaning "this cell
// carries no temporal split" (the static counterpart of a temporal cell).
// Real time bins occupy [0, staticTimeBin).
const staticTimeBin = 1<<timeBinBits - 1

func (r *Ring) cellPart(lonRing, latRing int, timeBin uint32) uint32 {
	spatial := uint32(latRing)*uint32(r.lonRings) + uint32(lonRing)
	if !r.temporal() {
		return spatial
	}
	return spatial<<timeBinBits | (timeBin & staticTimeBin)
}

// splitCellPart decomposes a cell part. isTemporal is false either when the
// pixelization has no temporal axis at all, or when this particular cell
// carries the staticTimeBin sentinel.
func (r *Ring) splitCellPart(cellPart uint32) (lonRing, latRing int, timeBin uint32, isTemporal bool) {
	if !r.temporal() {
		spatial := cellPart
		return int(spatial % uint32(r.lonRings)), int(spatial / uint32(r.lonRings)), 0, false
	}
	timeBin = cellPart & staticTimeBin
	spatial := cellPart >> timeBinBits
	return int(spatial % uint32(r.lonRings)), int(spatial / uint32(r.lonRings)), timeBin, timeBin != staticTimeBin
}

func (r *Ring) ObjIDFromPos(lon, lat float64, t *float64) (key.Key, error) {
	if lat < -90 || lat > 90 {
		return 0, fmt.Errorf("pixel: lat %g out of range", lat)
	}
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	lonRing := int(lon / 360 * float64(r.lonRings))
	if lonRing >= r.lonRings {
		lonRing = r.lonRings - 1
	}
	latRing := int((lat + 90) / 180 * float64(r.latRings))
	if latRing >= r.latRings {
		latRing = r.latRings - 1
	}
	var timeBin uint32
	if r.temporal() {
		if t == nil {
			// No temporal value: row is static within a temporal table.
			timeBin = staticTimeBin
		} else {
			tb := (*t - r.t0) / r.dt
			if tb < 0 {
				tb = 0
			}
			timeBin = uint32(tb) % staticTimeBin
		}
	}
	return key.New(r.cellPart(lonRing, latRing, timeBin), 0), nil
}

func (r *Ring) CellForID(k key.Key) key.CellID {
	return key.New(k.CellPart(), 0).Cell()
}

func (r *Ring) IsCellID(k key.Key) bool {
	return k.IsBare()
}

func (r *Ring) IsTemporalCell(c key.CellID) bool {
	if !r.temporal() {
		return false
	}
	_, _, _, isTemporal := r.splitCellPart(c.CellPart())
	return isTemporal
}

func (r *Ring) StaticCellForCell(c key.CellID) key.CellID {
	if !r.temporal() {
		return c
	}
	lonRing, latRing, _, _ := r.splitCellPart(c.CellPart())
	return key.New(r.cellPart(lonRing, latRing, staticTimeBin), 0).Cell()
}

func (r *Ring) PathToCell(c key.CellID) string {
	lonRing, latRing, timeBin, isTemporal := r.splitCellPart(c.CellPart())
	if isTemporal {
		return fmt.Sprintf("%02d/%03d_%03d/t%06d", r.level, latRing, lonRing, timeBin)
	}
	return fmt.Sprintf("%02d/%03d_%03d", r.level, latRing, lonRing)
}

func (r *Ring) IDForCellI(c key.CellID, idx uint32) key.Key {
	return c.WithObj(idx)
}

var cellPathRe = regexp.MustCompile(`^(\d+)/(\d+)_(\d+)(?:/t(\d+))?$`)

// ParsePath is PathToCell's inverse, used by internal/celltree to rebuild
// its index by walking the primary cgroup's tablet directory. Not part of
// the Pixelization contract (pixelizations need not support it); the
// cell-tree cache falls back to an incremental, write-time-recorded index
// when the configured pixelization doesn't implement this.
func (r *Ring) ParsePath(path string) (key.CellID, bool) {
	m := cellPathRe.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	latRing, err1 := strconv.Atoi(m[2])
	lonRing, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	timeBin := uint32(staticTimeBin)
	if r.temporal() && m[4] != "" {
		tb, err := strconv.Atoi(m[4])
		if err != nil {
			return 0, false
		}
		timeBin = uint32(tb)
	}
	return key.New(r.cellPart(lonRing, latRing, timeBin), 0).Cell(), true
}
