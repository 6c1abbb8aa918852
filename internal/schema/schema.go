// Package schema persists and indexes table metadata: column groups, file
// groups, filters, and aliases, as schema.cfg, a 4-space-indented JSON
// document whose top-level keys (and map keys) are in alphabetical order;
// the keys of nested struct objects (cgroup schemas, column and blob
// definitions, file groups) follow struct field order, not alphabetical
// order. It rebuilds its in-memory column index from scratch on every load.
package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
)

// DType is a column's fixed-width scalar dtype code. Blob columns are
// stored on disk as DTypeI8 references; DTypeO8 is accepted only as
// input to CreateCgroup and is rewritten to DTypeI8 with IsBlob set.
type DType string

const (
	DTypeU8  DType = "u8"
	DTypeI8  DType = "i8"
	DTypeU16 DType = "u16"
	DTypeI16 DType = "i16"
	DTypeU32 DType = "u32"
	DTypeI32 DType = "i32"
	DTypeU64 DType = "u64"
	DTypeI64 DType = "i64"
	DTypeF32 DType = "f32"
	DTypeF64 DType = "f64"
	DTypeBool DType = "bool"
	// DTypeO8 is the input-only "object blob" dtype code; CreateCgroup
	// rewrites it to DTypeI8 and marks the column a blob.
	DTypeO8 DType = "O8"
)

// ColumnDef is one (column_name, dtype_code) entry of a cgroup schema.
type ColumnDef struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

// BlobSpec holds per-blob-column settings: compression filter, size hint,
// element kind.
type BlobSpec struct {
	Filter   string `json:"filter,omitempty"`
	SizeHint int    `json:"size_hint,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// CgroupSchema is a named schema fragment. Only the primary cgroup (the
// first non-pseudo cgroup encountered on load) may set PrimaryKey,
// SpatialLon/SpatialLat, TemporalKey, or ExposureKey.
type CgroupSchema struct {
	Name        string              `json:"name"`
	Columns     []ColumnDef         `json:"columns"`
	PrimaryKey  string              `json:"primary_key,omitempty"`
	SpatialLon  string              `json:"spatial_lon,omitempty"`
	SpatialLat  string              `json:"spatial_lat,omitempty"`
	TemporalKey string              `json:"temporal_key,omitempty"`
	ExposureKey string              `json:"exposure_key,omitempty"`
	Blobs       map[string]BlobSpec `json:"blobs,omitempty"`
}

// IsPseudo reports whether this is a synthesized, never-persisted cgroup
// (its name starts with '_').
func (c CgroupSchema) IsPseudo() bool {
	return len(c.Name) > 0 && c.Name[0] == '_'
}

// FgroupDef describes an external BLOB file group.
type FgroupDef struct {
	Path   string `json:"path,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// cgroupEntry preserves declaration order across JSON round-trips ([]T
// would sort as a JSON array already, but keeping a dedicated type makes
// the "ordered sequence of (name, schema) pairs" requirement explicit).
type cgroupEntry struct {
	Name   string       `json:"name"`
	Schema CgroupSchema `json:"schema"`
}

// doc is the on-disk shape of schema.cfg. Field order matches the
// alphabetical key order the spec requires; json.MarshalIndent preserves
// struct field order for objects (it only sorts map keys), so declaring
// fields in this order is sufficient.
type doc struct {
	Aliases map[string]string    `json:"aliases"`
	Cgroups []cgroupEntry         `json:"cgroups"`
	Dt      float64               `json:"dt"`
	Fgroups map[string]FgroupDef  `json:"fgroups"`
	Filters map[string]string     `json:"filters"`
	Level   int                   `json:"level"`
	Name    string                `json:"name"`
	NRows   uint64                `json:"nrows"`
	T0      float64               `json:"t0"`
}

// column is a fully-resolved column record.
type column struct {
	Name    string
	Cgroup  string
	DType   DType
	IsBlob  bool
}

// pseudoCgroupName is the synthesized in-memory-only cgroup appended after
// every load.
const pseudoCgroupName = "_PSEUDOCOLS"

// Store owns one table's schema.cfg and the index rebuilt from it.
type Store struct {
	path string // directory containing schema.cfg
	doc  doc

	// index, rebuilt from scratch on every Load.
	columns       map[string]column
	cgroupOrder   []string // non-pseudo cgroups, declaration order
	primaryCgroup string
	primaryKey    string
	spatialLon    string
	spatialLat    string
	temporalKey   string
	exposureKey   string
}

func cfgPath(dir string) string {
	return filepath.Join(dir, "schema.cfg")
}

// New initializes a brand-new table's schema at dir, writing schema.cfg
// immediately.
func New(dir, name string, level int, t0, dt float64) (*Store, error) {
	s := &Store{
		path: dir,
		doc: doc{
			Name:    name,
			Level:   level,
			T0:      t0,
			Dt:      dt,
			Aliases: map[string]string{},
			Fgroups: map[string]FgroupDef{},
			Filters: map[string]string{},
		},
	}
	s.rebuildIndex()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("schema: create table dir: %w", err)
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads an existing schema.cfg from dir.
func Load(dir string) (*Store, error) {
	data, err := os.ReadFile(cfgPath(dir))
	if err != nil {
		return nil, fmt.Errorf("schema: read schema.cfg: %w", err)
	}
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("schema: parse schema.cfg: %w", err)
	}
	s := &Store{path: dir, doc: d}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuildIndex reconstructs the column index from self.doc.Cgroups, in
// declaration order, fixing the primary cgroup as the first non-pseudo
// entry. It also appends the synthetic _PSEUDOCOLS cgroup in memory.
func (s *Store) rebuildIndex() error {
	s.columns = make(map[string]column)
	s.cgroupOrder = nil
	s.primaryCgroup = ""
	s.primaryKey = ""
	s.spatialLon, s.spatialLat = "", ""
	s.temporalKey = ""
	s.exposureKey = ""

	for _, ce := range s.doc.Cgroups {
		cg := ce.Schema
		if cg.IsPseudo() {
			continue
		}
		isPrimary := s.primaryCgroup == ""
		if isPrimary {
			s.primaryCgroup = cg.Name
			s.primaryKey = cg.PrimaryKey
			s.spatialLon, s.spatialLat = cg.SpatialLon, cg.SpatialLat
			s.temporalKey = cg.TemporalKey
			s.exposureKey = cg.ExposureKey
		} else if cg.PrimaryKey != "" || cg.SpatialLon != "" || cg.SpatialLat != "" || cg.TemporalKey != "" {
			return fmt.Errorf("schema: cgroup %q declares keys but is not the primary cgroup", cg.Name)
		}
		s.cgroupOrder = append(s.cgroupOrder, cg.Name)
		for _, col := range cg.Columns {
			if _, dup := s.columns[col.Name]; dup {
				return fmt.Errorf("schema: duplicate column name %q across cgroups", col.Name)
			}
			_, isBlob := cg.Blobs[col.Name]
			if isBlob && col.DType != DTypeI8 {
				return fmt.Errorf("schema: blob column %q must have dtype i8, got %s", col.Name, col.DType)
			}
			s.columns[col.Name] = column{Name: col.Name, Cgroup: cg.Name, DType: col.DType, IsBlob: isBlob}
		}
	}

	// Synthetic pseudo-cgroup, in memory only.
	for _, c := range []column{
		{Name: "_CACHED", Cgroup: pseudoCgroupName, DType: DTypeBool},
		{Name: "_ROWIDX", Cgroup: pseudoCgroupName, DType: DTypeU64},
		{Name: "_ROWID", Cgroup: pseudoCgroupName, DType: DTypeU64},
	} {
		s.columns[c.Name] = c
	}
	return nil
}

// save writes schema.cfg as 4-space-indented JSON with alphabetically
// ordered top-level keys (nested struct objects keep field order).
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return fmt.Errorf("schema: marshal schema.cfg: %w", err)
	}
	tmp := cfgPath(s.path) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("schema: write schema.cfg: %w", err)
	}
	return os.Rename(tmp, cfgPath(s.path))
}

// Path returns the table root directory.
func (s *Store) Path() string { return s.path }

// Name returns the table's logical name.
func (s *Store) Name() string { return s.doc.Name }

// Level, T0, Dt return the pixelization parameters recorded in schema.cfg.
func (s *Store) Level() int   { return s.doc.Level }
func (s *Store) T0() float64  { return s.doc.T0 }
func (s *Store) Dt() float64  { return s.doc.Dt }

// NRows returns the persisted row count.
func (s *Store) NRows() uint64 { return s.doc.NRows }

// AddRows advances nrows by delta and persists the change.
func (s *Store) AddRows(delta uint64) error {
	s.doc.NRows += delta
	return s.save()
}

// PrimaryCgroup, PrimaryKey, SpatialKeys, TemporalKey, ExposureKey expose
// the fixed index built from the primary cgroup.
func (s *Store) PrimaryCgroup() string { return s.primaryCgroup }
func (s *Store) PrimaryKey() (string, bool) {
	return s.primaryKey, s.primaryKey != ""
}
func (s *Store) SpatialKeys() (lon, lat string, ok bool) {
	return s.spatialLon, s.spatialLat, s.spatialLon != "" && s.spatialLat != ""
}
func (s *Store) TemporalKey() (string, bool) {
	return s.temporalKey, s.temporalKey != ""
}
func (s *Store) ExposureKey() (string, bool) {
	return s.exposureKey, s.exposureKey != ""
}

// CgroupOrder returns the non-pseudo cgroup names in schema declaration
// order.
func (s *Store) CgroupOrder() []string {
	return append([]string(nil), s.cgroupOrder...)
}

// Cgroup returns the full schema fragment for a non-pseudo cgroup name.
func (s *Store) Cgroup(name string) (CgroupSchema, bool) {
	for _, ce := range s.doc.Cgroups {
		if ce.Schema.Name == name {
			return ce.Schema, true
		}
	}
	return CgroupSchema{}, false
}

// IsPseudoCgroup reports whether name is the synthetic pseudo-cgroup.
func (s *Store) IsPseudoCgroup(name string) bool {
	return name == pseudoCgroupName
}

// PseudoCgroupName is the name of the synthetic cgroup holding
// _CACHED/_ROWIDX/_ROWID.
func (s *Store) PseudoCgroupName() string { return pseudoCgroupName }

// ColumnCgroup returns which cgroup owns a column name, and whether it's a
// blob column.
func (s *Store) ColumnCgroup(name string) (cgroup string, isBlob bool, ok bool) {
	c, ok := s.columns[name]
	if !ok {
		return "", false, false
	}
	return c.Cgroup, c.IsBlob, true
}

// ColumnDType returns a column's dtype.
func (s *Store) ColumnDType(name string) (DType, bool) {
	c, ok := s.columns[name]
	return c.DType, ok
}

// CreateCgroup validates and adds a new cgroup, rewriting O8 blob dtypes
// to i8, then persists schema.cfg.
func (s *Store) CreateCgroup(cg CgroupSchema, ignoreIfExists bool) error {
	if cg.IsPseudo() {
		return fmt.Errorf("schema: cannot declare a pseudo-cgroup (name %q starts with '_')", cg.Name)
	}
	if _, exists := s.Cgroup(cg.Name); exists {
		if ignoreIfExists {
			return nil
		}
		return fmt.Errorf("schema: cgroup %q already exists", cg.Name)
	}
	isPrimary := s.primaryCgroup == ""
	if !isPrimary && (cg.PrimaryKey != "" || cg.SpatialLon != "" || cg.SpatialLat != "" || cg.TemporalKey != "") {
		return fmt.Errorf("schema: only the primary cgroup may declare primary/spatial/temporal keys")
	}

	rewritten := make([]ColumnDef, len(cg.Columns))
	copy(rewritten, cg.Columns)
	if cg.Blobs == nil {
		cg.Blobs = map[string]BlobSpec{}
	} else {
		cg.Blobs = maps.Clone(cg.Blobs)
	}
	for i, col := range rewritten {
		if col.DType == DTypeO8 {
			rewritten[i].DType = DTypeI8
			if _, has := cg.Blobs[col.Name]; !has {
				cg.Blobs[col.Name] = BlobSpec{}
			}
		} else if _, isBlob := cg.Blobs[col.Name]; isBlob && col.DType != DTypeI8 {
			return fmt.Errorf("schema: blob column %q must have dtype i8, got %s", col.Name, col.DType)
		}
	}
	cg.Columns = rewritten

	s.doc.Cgroups = append(s.doc.Cgroups, cgroupEntry{Name: cg.Name, Schema: cg})
	if err := s.rebuildIndex(); err != nil {
		// Roll back the append so the in-memory doc stays consistent with
		// the last successfully-saved state.
		s.doc.Cgroups = s.doc.Cgroups[:len(s.doc.Cgroups)-1]
		_ = s.rebuildIndex()
		return fmt.Errorf("schema: %w", err)
	}
	return s.save()
}

// DefineAlias maps name to target in the user alias map and persists.
func (s *Store) DefineAlias(name, target string) error {
	if s.doc.Aliases == nil {
		s.doc.Aliases = map[string]string{}
	}
	s.doc.Aliases[name] = target
	return s.save()
}

// ResolveAlias resolves name: first the five built-ins (_ID, _LON, _LAT,
// _TIME, _EXP), honored only if the underlying key exists, then the user
// alias map, otherwise returns name unchanged.
func (s *Store) ResolveAlias(name string) string {
	switch name {
	case "_ID":
		if s.primaryKey != "" {
			return s.primaryKey
		}
	case "_LON":
		if s.spatialLon != "" {
			return s.spatialLon
		}
	case "_LAT":
		if s.spatialLat != "" {
			return s.spatialLat
		}
	case "_TIME":
		if s.temporalKey != "" {
			return s.temporalKey
		}
	case "_EXP":
		if s.exposureKey != "" {
			return s.exposureKey
		}
	}
	if target, ok := s.doc.Aliases[name]; ok {
		return target
	}
	return name
}

// DefineFgroup registers or updates a named external file group and
// persists.
func (s *Store) DefineFgroup(name string, def FgroupDef) error {
	if s.doc.Fgroups == nil {
		s.doc.Fgroups = map[string]FgroupDef{}
	}
	s.doc.Fgroups[name] = def
	return s.save()
}

// Fgroup returns a defined file group by name.
func (s *Store) Fgroup(name string) (FgroupDef, bool) {
	fg, ok := s.doc.Fgroups[name]
	return fg, ok
}

// SetDefaultFilters sets the default tablet filter recorded per cgroup and
// persists.
func (s *Store) SetDefaultFilters(cgroup, filter string) error {
	if s.doc.Filters == nil {
		s.doc.Filters = map[string]string{}
	}
	s.doc.Filters[cgroup] = filter
	return s.save()
}

// DefaultFilter returns the recorded default filter for a cgroup, if any.
func (s *Store) DefaultFilter(cgroup string) string {
	return s.doc.Filters[cgroup]
}
