// Package celltree implements the persisted cell-tree cache: an index of
// which cells own a primary-cgroup tablet, answering bounds queries
// without scanning the filesystem on every call.
package celltree

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/skydb/internal/key"
	"github.com/maruel/skydb/internal/tablet"
)

// treeFileName is the persisted index file, a JSON document (the teacher's
// preference for debuggable files over opaque binary ones — schema.cfg is
// the model) rather than the reference implementation's pickle file.
const treeFileName = "tablet_tree.json"

// Info records what a cell's primary tablet owns.
type Info struct {
	HasMain   bool `json:"has_main"`
	HasCached bool `json:"has_cached"`
}

// PathParser is implemented by pixelizations that can recover a cell-path
// fragment's CellID, which Rebuild needs to walk the filesystem. The
// reference pixel.Ring implements it; pixelizations that don't can still
// use Cache via Record, just not Rebuild.
type PathParser interface {
	ParsePath(path string) (key.CellID, bool)
}

// Cache is a persisted, optionally fsnotify-refreshed index of cells that
// own a primary-cgroup tablet.
type Cache struct {
	tableDir      string
	tableName     string
	primaryCgroup string
	parser        PathParser
	logger        *slog.Logger

	mu    sync.Mutex
	cells map[key.CellID]Info

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
}

// Open loads the persisted tree if it is newer than schema.cfg; otherwise
// it rebuilds by walking the table's tablet directory. Without a
// PathParser no rebuild is attempted and a stale or missing tree starts
// empty, to be filled by Record. logger receives rebuild diagnostics; a
// nil logger falls back to slog.Default.
func Open(tableDir, tableName, primaryCgroup string, parser PathParser, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{tableDir: tableDir, tableName: tableName, primaryCgroup: primaryCgroup, parser: parser, logger: logger}
	fresh, err := c.isFresh()
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := c.load(); err == nil {
			return c, nil
		}
		// Fall through to rebuild if the persisted file is unreadable.
	}
	if c.parser == nil {
		return c, nil
	}
	if err := c.Rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) treePath() string    { return filepath.Join(c.tableDir, treeFileName) }
func (c *Cache) schemaPath() string  { return filepath.Join(c.tableDir, "schema.cfg") }

// isFresh reports whether the persisted tree file's mtime is newer than
// schema.cfg's, per spec.md's invalidation rule.
func (c *Cache) isFresh() (bool, error) {
	treeInfo, err := os.Stat(c.treePath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("celltree: stat tree file: %w", err)
	}
	schemaInfo, err := os.Stat(c.schemaPath())
	if err != nil {
		return false, fmt.Errorf("celltree: stat schema.cfg: %w", err)
	}
	return treeInfo.ModTime().After(schemaInfo.ModTime()), nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.treePath())
	if err != nil {
		return err
	}
	var raw map[string]Info
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cells := make(map[key.CellID]Info, len(raw))
	for k, v := range raw {
		var cellPart uint32
		if _, err := fmt.Sscanf(k, "%d", &cellPart); err != nil {
			continue
		}
		cells[key.New(cellPart, 0).Cell()] = v
	}
	c.mu.Lock()
	c.cells = cells
	c.mu.Unlock()
	return nil
}

func (c *Cache) persist() error {
	c.mu.Lock()
	raw := make(map[string]Info, len(c.cells))
	for k, v := range c.cells {
		raw[fmt.Sprintf("%d", k.CellPart())] = v
	}
	c.mu.Unlock()
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return err
	}
	tmp := c.treePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, c.treePath())
}

// SetLogger replaces the logger used for rebuild diagnostics.
func (c *Cache) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Rebuild walks the table's tablets/ directory, picks out the primary
// cgroup's tablet files, and recomputes the index from scratch. Requires
// a PathParser-capable pixelization.
func (c *Cache) Rebuild() error {
	if c.parser == nil {
		return fmt.Errorf("celltree: rebuild requires a pixelization implementing PathParser")
	}
	c.logger.Debug("celltree: rebuilding index", "table", c.tableName, "dir", c.tableDir)
	cells := make(map[key.CellID]Info)
	suffix := "." + c.primaryCgroup + ".sktab"
	root := filepath.Join(c.tableDir, "tablets")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil
		}
		cellID, ok := c.parser.ParsePath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		tb, err := tablet.Open(path, true, "", nil)
		if err != nil {
			return nil
		}
		cells[cellID] = Info{HasMain: len(tb.Main.Rows) > 0, HasCached: len(tb.Cached.Rows) > 0}
		return nil
	})
	if err != nil {
		return fmt.Errorf("celltree: rebuild: %w", err)
	}
	c.mu.Lock()
	c.cells = cells
	c.mu.Unlock()
	c.logger.Debug("celltree: index rebuilt", "table", c.tableName, "cells", len(cells))
	return c.persist()
}

// Record updates a single cell's ownership info, e.g. right after a
// successful write, and persists the change. This keeps the cache correct
// without a full filesystem walk on the common path.
func (c *Cache) Record(cell key.CellID, info Info) error {
	c.mu.Lock()
	if c.cells == nil {
		c.cells = make(map[key.CellID]Info)
	}
	c.cells[cell] = info
	c.mu.Unlock()
	return c.persist()
}

// Cells returns all cells matching includeCached: when false, only cells
// that own main rows are returned; when true, cells carrying only
// neighbor-cache data are included too.
func (c *Cache) Cells(includeCached bool) []key.CellID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]key.CellID, 0, len(c.cells))
	for cell, info := range c.cells {
		if info.HasMain || (includeCached && info.HasCached) {
			out = append(out, cell)
		}
	}
	return out
}

// Watch starts an fsnotify watch on the table directory (not its
// subdirectories). On each event for schema.cfg it checks isFresh and
// rebuilds the index when the persisted tree is no longer newer than
// schema.cfg; events on other files are ignored. Cells itself does not
// re-check mtimes.
func (c *Cache) Watch() error {
	var err error
	c.watchOnce.Do(func() {
		var w *fsnotify.Watcher
		w, err = fsnotify.NewWatcher()
		if err != nil {
			return
		}
		err = w.Add(c.tableDir)
		if err != nil {
			w.Close()
			return
		}
		c.watcher = w
		go c.watchLoop()
	})
	return err
}

func (c *Cache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == "schema.cfg" {
				time.Sleep(10 * time.Millisecond) // let the writer finish its rename
				if fresh, err := c.isFresh(); err == nil && !fresh {
					_ = c.Rebuild()
				}
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the fsnotify watch, if any.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
