package skydb

import (
	"context"
	"errors"

	"github.com/maruel/skydb/internal/celltree"
	"github.com/maruel/skydb/internal/key"
	"github.com/maruel/skydb/internal/lockmgr"
	"github.com/maruel/skydb/internal/schema"
	"github.com/maruel/skydb/internal/tablet"
)

// AppendOptions parameterizes a single Append call.
type AppendOptions struct {
	// Group selects the row group written to; the zero value means Main.
	Group tablet.Group
	// CellID, if set, forces every row into one cell; only permitted with
	// Group == Cached.
	CellID *CellID
	// Update requests upsert-by-primary-key semantics; only permitted with
	// Group == Main (or the zero value).
	Update bool
}

// Append resolves aliases, assigns rows to cells, locks each destination
// cell in turn, and upserts rows and blobs. It returns cols with its
// primary-key column completed (autogenerated cell-IDs and object
// indices filled in), so the caller sees exactly what was assigned.
func (t *Table) Append(ctx context.Context, cols Columns, opts AppendOptions) (Columns, error) {
	group := opts.Group
	if group == "" {
		group = tablet.Main
	}
	if opts.Update && group != tablet.Main {
		return nil, newError(KindKeyContract, "update is only permitted with group=main")
	}
	if opts.CellID != nil && group != tablet.Cached {
		return nil, newError(KindKeyContract, "explicit cell_id is only permitted with group=cached")
	}

	n := cols.Len()
	if bad, ok := cols.checkLen(n); !ok {
		return nil, newError(KindKeyContract, "column %q has a different length than the rest of the batch", bad)
	}
	primaryKeyName, ok := t.schema.PrimaryKey()
	if !ok {
		return nil, newError(KindSchemaViolation, "table has no primary key declared")
	}

	// Step 1: alias resolution and primary-key prep.
	resolved := make(Columns, len(cols))
	for name, vals := range cols {
		resolved[t.schema.ResolveAlias(name)] = vals
	}
	keys := make([]key.Key, n)
	if kv, has := resolved[primaryKeyName]; has {
		for i, v := range kv {
			keys[i] = toKey(v)
		}
	}
	if opts.CellID == nil && !opts.Update {
		for _, k := range keys {
			if !k.IsZero() && !k.IsBare() {
				return nil, newError(KindKeyContract, "batch mixes full keys with bare cell-IDs; pass update=true or an explicit cell_id")
			}
		}
	}

	// Step 2: cell assignment.
	cells := make([]key.CellID, n)
	lonName, latName, hasSpatial := t.schema.SpatialKeys()
	timeName, hasTime := t.schema.TemporalKey()
	if opts.CellID != nil {
		cid := key.CellID(*opts.CellID)
		for i := range cells {
			cells[i] = cid
		}
	} else {
		if group == tablet.Main {
			for i := range keys {
				if !keys[i].IsZero() {
					continue
				}
				if !hasSpatial {
					return nil, newError(KindSchemaViolation, "no spatial keys declared; cannot assign a cell to row %d", i)
				}
				lon := toFloat(resolved[lonName][i])
				lat := toFloat(resolved[latName][i])
				var tp *float64
				if hasTime {
					tv := toFloat(resolved[timeName][i])
					tp = &tv
				}
				k, err := t.pix.ObjIDFromPos(lon, lat, tp)
				if err != nil {
					return nil, Wrap(KindSchemaViolation, err, "assign cell to row %d", i)
				}
				keys[i] = k
			}
		}
		for i := range keys {
			cells[i] = t.pix.CellForID(keys[i])
		}
	}

	// Step 3: locking loop over the unique destination cells.
	uniqueCells := dedupeCells(cells)
	paths := make([]string, len(uniqueCells))
	pathToCell := make(map[string]key.CellID, len(uniqueCells))
	for i, c := range uniqueCells {
		p := t.lockPath(c)
		paths[i] = p
		pathToCell[p] = c
	}

	var totalNewMain uint64
	err := lockmgr.RoundRobin(paths, 3600, t.cfg.logger(), func(path string, l *lockmgr.Lock) error {
		defer l.Unlock()
		cellID := pathToCell[path]
		n, err := t.writeCell(cellID, group, opts.Update, resolved, cells, keys, primaryKeyName)
		if err != nil {
			return err
		}
		totalNewMain += uint64(n)
		return nil
	})
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		if errors.Is(err, lockmgr.ErrStuck) {
			return nil, Wrap(KindLockContention, err, "append: round-robin lock acquisition")
		}
		return nil, Wrap(KindIO, err, "append")
	}

	// Postcondition: no duplicate primary keys within the batch, checked
	// post-write per spec's KeyContract definition.
	seen := make(map[key.Key]struct{}, n)
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return nil, newError(KindKeyContract, "duplicate primary key %s in append batch", k)
		}
		seen[k] = struct{}{}
	}

	if group == tablet.Main && totalNewMain > 0 {
		if err := t.schema.AddRows(totalNewMain); err != nil {
			return nil, Wrap(KindIO, err, "persist nrows")
		}
	}

	out := resolved.clone()
	keyVals := make([]any, n)
	for i, k := range keys {
		keyVals[i] = k
	}
	out[primaryKeyName] = keyVals
	return out, nil
}

// writeCell performs step 4 (per-cell, per-cgroup write) for one locked
// cell, mutating keys in place for rows whose object index was
// autogenerated. It returns the number of genuinely new main-group rows
// appended (0 for pure updates).
func (t *Table) writeCell(cellID key.CellID, group tablet.Group, update bool, resolved Columns, cells []key.CellID, keys []key.Key, primaryKeyName string) (int, error) {
	var maskedIdx []int
	for i, c := range cells {
		if c == cellID {
			maskedIdx = append(maskedIdx, i)
		}
	}

	primaryCgroupName := t.schema.PrimaryCgroup()
	newRows := 0
	var primaryHasMain, primaryHasCached bool
	// updateIdx holds the update-mode row targets computed on the primary
	// cgroup (always first in CgroupOrder); the other cgroups reuse them so
	// their rows stay aligned with the primary's.
	var updateIdx []int

	for _, cgName := range t.schema.CgroupOrder() {
		cg, _ := t.schema.Cgroup(cgName)
		isPrimary := cgName == primaryCgroupName
		blobCols := blobColumnNames(cg)

		path := t.tabletPath(cellID, cgName)
		tb, err := tablet.Open(path, isPrimary, primaryKeyName, blobCols)
		if err != nil {
			return 0, Wrap(KindIO, err, "open tablet %s", path)
		}
		rg := tb.Group(group)

		targetIdx := updateIdx
		if isPrimary {
			var maxObj uint32
			for _, i := range maskedIdx {
				if op := keys[i].ObjPart(); op > maxObj {
					maxObj = op
				}
			}
			if group == tablet.Main {
				if tb.Seq <= uint64(maxObj) {
					tb.Seq = uint64(maxObj) + 1
				}
				for _, i := range maskedIdx {
					if keys[i].ObjPart() == 0 {
						keys[i] = key.New(cellID.CellPart(), uint32(tb.Seq))
						tb.Seq++
					}
				}
			}

			if update && group == tablet.Main {
				existing := make(map[key.Key]int, len(tb.Main.Rows))
				for idx, row := range tb.Main.Rows {
					if kv, ok := row[primaryKeyName]; ok {
						existing[toKey(kv)] = idx
					}
				}
				nrowsExisting := len(tb.Main.Rows)
				targetIdx = make([]int, len(maskedIdx))
				nextAppend := nrowsExisting
				for j, i := range maskedIdx {
					if idx, ok := existing[keys[i]]; ok {
						targetIdx[j] = idx
					} else {
						targetIdx[j] = nextAppend
						nextAppend++
						newRows++
					}
				}
				updateIdx = targetIdx
			} else if group == tablet.Main {
				newRows = len(maskedIdx)
			}
		}

		if targetIdx == nil {
			base := len(rg.Rows)
			targetIdx = make([]int, len(maskedIdx))
			for j := range maskedIdx {
				targetIdx[j] = base + j
			}
		}

		growRows(rg, targetIdx)

		for _, colDef := range cg.Columns {
			if isPrimary && colDef.Name == primaryKeyName {
				for j, i := range maskedIdx {
					rg.Rows[targetIdx[j]][colDef.Name] = uint64(keys[i])
				}
				continue
			}
			if _, isBlob := cg.Blobs[colDef.Name]; isBlob {
				continue
			}
			vals, has := resolved[colDef.Name]
			if !has {
				continue
			}
			for j, i := range maskedIdx {
				rg.Rows[targetIdx[j]][colDef.Name] = vals[i]
			}
		}

		for blobCol := range cg.Blobs {
			vals, has := resolved[blobCol]
			if !has {
				continue
			}
			batch := make([]any, len(maskedIdx))
			for j, i := range maskedIdx {
				batch[j] = vals[i]
			}
			refs := tablet.DedupBatch(rg.Blobs[blobCol], batch)
			for j, ti := range targetIdx {
				rg.Rows[ti][blobCol] = int64(refs[j])
			}
		}

		if err := tb.Save(); err != nil {
			return 0, Wrap(KindIO, err, "save tablet %s", path)
		}
		if isPrimary {
			primaryHasMain = len(tb.Main.Rows) > 0
			primaryHasCached = len(tb.Cached.Rows) > 0
		}
	}

	if err := t.tree.Record(cellID, celltree.Info{HasMain: primaryHasMain, HasCached: primaryHasCached}); err != nil {
		return 0, Wrap(KindIO, err, "record cell tree entry for %s", cellID)
	}
	return newRows, nil
}

// growRows extends rg.Rows so every index in targetIdx is addressable,
// filling new slots with empty rows (the zero-filled row buffer of
// spec.md's append-only path).
func growRows(rg *tablet.RowGroup, targetIdx []int) {
	need := len(rg.Rows)
	for _, ti := range targetIdx {
		if ti+1 > need {
			need = ti + 1
		}
	}
	if need <= len(rg.Rows) {
		return
	}
	grown := make([]tablet.Row, need)
	copy(grown, rg.Rows)
	for i := len(rg.Rows); i < need; i++ {
		grown[i] = make(tablet.Row)
	}
	rg.Rows = grown
}

func blobColumnNames(cg schema.CgroupSchema) []string {
	if len(cg.Blobs) == 0 {
		return nil
	}
	names := make([]string, 0, len(cg.Blobs))
	for name := range cg.Blobs {
		names = append(names, name)
	}
	return names
}

// dedupeCells returns the unique cells in cells, first-occurrence order.
func dedupeCells(cells []key.CellID) []key.CellID {
	seen := make(map[key.CellID]struct{}, len(cells))
	var out []key.CellID
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
