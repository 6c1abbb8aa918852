package skydb

import (
	"github.com/maruel/skydb/internal/tablet"
)

// Row is one record, keyed by (possibly aliased) column name. Aliased
// from internal/tablet so callers can hold one without an internal
// import.
type Row = tablet.Row

// Fetch reads a cgroup's rows for one cell. If cgroup names the
// synthetic pseudo-cgroup, its columns are synthesized (see
// fetchPseudo); otherwise a missing tablet yields an empty, non-error
// result. Before any read, if cellID is a temporal cell with no tablet,
// its static counterpart is substituted and the read retried once.
func (t *Table) Fetch(cellID CellID, cgroup string, includeCached bool) ([]Row, error) {
	if t.schema.IsPseudoCgroup(cgroup) {
		return t.fetchPseudo(cellID, includeCached)
	}
	cg, ok := t.schema.Cgroup(cgroup)
	if !ok {
		return nil, newError(KindSchemaViolation, "unknown cgroup %q", cgroup)
	}
	isPrimary := cgroup == t.schema.PrimaryCgroup()
	primaryKeyName, _ := t.schema.PrimaryKey()
	blobCols := blobColumnNames(cg)

	path, _, exists := t.resolveTabletPath(cellID, cgroup)
	if !exists {
		return nil, nil
	}
	tb, err := tablet.Open(path, isPrimary, primaryKeyName, blobCols)
	if err != nil {
		return nil, Wrap(KindIO, err, "open tablet %s", path)
	}
	return tb.Read(includeCached, blobCols), nil
}

// FetchBlobs resolves a batch of signed blob references for one column,
// applying the same static-cell fallback as Fetch. The owning cgroup is
// derived from column via the schema's column index, not supplied by the
// caller. An empty refs slice short-circuits to an empty result. Negative
// (cached) references are rejected unless includeCached is set.
func (t *Table) FetchBlobs(cellID CellID, column string, refs []int64, includeCached bool) ([]any, error) {
	if len(refs) == 0 {
		return []any{}, nil
	}
	cgroup, isBlob, ok := t.schema.ColumnCgroup(column)
	if !ok {
		return nil, newError(KindSchemaViolation, "unknown column %q", column)
	}
	if !isBlob {
		return nil, newError(KindSchemaViolation, "column %q is not a blob column", column)
	}
	cg, _ := t.schema.Cgroup(cgroup)
	isPrimary := cgroup == t.schema.PrimaryCgroup()
	primaryKeyName, _ := t.schema.PrimaryKey()
	blobCols := blobColumnNames(cg)

	path, _, exists := t.resolveTabletPath(cellID, cgroup)
	if !exists {
		return make([]any, len(refs)), nil
	}
	tb, err := tablet.Open(path, isPrimary, primaryKeyName, blobCols)
	if err != nil {
		return nil, Wrap(KindIO, err, "open tablet %s", path)
	}

	mainAbs, cachedAbs, side, posInSide := tablet.SplitRefs(refs)
	var mainVals, cachedVals []any
	if len(mainAbs) > 0 {
		if mainVals, err = tablet.LoadRefs(tb.Main.Blobs[column], mainAbs); err != nil {
			return nil, Wrap(KindIO, err, "load main blobs for %s.%s", cgroup, column)
		}
	}
	if len(cachedAbs) > 0 {
		if !includeCached {
			return nil, newError(KindKeyContract, "negative (cached) blob references for %s require includeCached", column)
		}
		if cachedVals, err = tablet.LoadRefs(tb.Cached.Blobs[column], cachedAbs); err != nil {
			return nil, Wrap(KindIO, err, "load cached blobs for %s.%s", cgroup, column)
		}
	}
	return tablet.Recombine(mainVals, cachedVals, side, posInSide), nil
}

// fetchPseudo synthesizes the _PSEUDOCOLS cgroup: _CACHED, _ROWIDX,
// _ROWID, derived from the primary cgroup's row counts.
func (t *Table) fetchPseudo(cellID CellID, includeCached bool) ([]Row, error) {
	primaryCgroup := t.schema.PrimaryCgroup()
	if primaryCgroup == "" {
		return nil, newError(KindSchemaViolation, "no primary cgroup declared")
	}
	path, target, exists := t.resolveTabletPath(cellID, primaryCgroup)

	var nMain, nCached int
	if exists {
		primaryKeyName, _ := t.schema.PrimaryKey()
		cg, _ := t.schema.Cgroup(primaryCgroup)
		tb, err := tablet.Open(path, true, primaryKeyName, blobColumnNames(cg))
		if err != nil {
			return nil, Wrap(KindIO, err, "open tablet %s", path)
		}
		nMain = len(tb.Main.Rows)
		if includeCached {
			nCached = len(tb.Cached.Rows)
		}
	} else {
		target = cellID
	}

	n := nMain + nCached
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = Row{
			"_CACHED": i >= nMain,
			"_ROWIDX": uint64(i),
			"_ROWID":  t.pix.IDForCellI(target, uint32(i)),
		}
	}
	return rows, nil
}

// resolveTabletPath returns the tablet path to read for cellID/cgroup,
// applying the static-if-no-temporal fallback once: if no tablet exists
// at cellID and cellID is a temporal cell, its static counterpart is
// tried instead. resolvedCell is whichever cell the returned path (if
// any) actually belongs to.
func (t *Table) resolveTabletPath(cellID CellID, cgroup string) (path string, resolvedCell CellID, exists bool) {
	path = t.tabletPath(cellID, cgroup)
	if tablet.Exists(path) {
		return path, cellID, true
	}
	if t.pix.IsTemporalCell(cellID) {
		static := t.pix.StaticCellForCell(cellID)
		staticPath := t.tabletPath(static, cgroup)
		if tablet.Exists(staticPath) {
			return staticPath, static, true
		}
	}
	return path, cellID, false
}
