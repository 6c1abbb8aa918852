// Package main is the entry point for skydbctl, a thin CLI wrapper
// around the skydb core table engine: create a table from a YAML
// fixture, append JSON-lines rows from stdin, dump a tablet, or list
// known cells. No business logic lives here; every subcommand is a
// direct call into the skydb package.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maruel/skydb"
	"github.com/maruel/skydb/internal/pixel"
	"github.com/maruel/skydb/internal/schema"
	"github.com/maruel/skydb/internal/tablet"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skydbctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "skydbctl",
		Short:         "Inspect and drive a skydb table from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(lvl))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	root.AddCommand(newCreateCmd(), newAppendCmd(), newFetchCmd(), newCellsCmd())
	return root
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

// newLogger picks a colorized tint handler when stderr is a terminal,
// plain slog text otherwise — the same isatty-gated choice tint/
// go-colorable/go-isatty exist together to make.
func newLogger(level slog.Level) *slog.Logger {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		w := colorable.NewColorable(os.Stderr)
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// fixture is the YAML shape accepted by "create --from".
type fixture struct {
	Name    string          `yaml:"name"`
	Level   int             `yaml:"level"`
	T0      float64         `yaml:"t0"`
	Dt      float64         `yaml:"dt"`
	Cgroups []cgroupFixture `yaml:"cgroups"`
}

type cgroupFixture struct {
	Name        string          `yaml:"name"`
	PrimaryKey  string          `yaml:"primary_key,omitempty"`
	SpatialLon  string          `yaml:"spatial_lon,omitempty"`
	SpatialLat  string          `yaml:"spatial_lat,omitempty"`
	TemporalKey string          `yaml:"temporal_key,omitempty"`
	Columns     []columnFixture `yaml:"columns"`
}

type columnFixture struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
}

func newCreateCmd() *cobra.Command {
	var path, from string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a table and its cgroups from a YAML fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(from)
			if err != nil {
				return err
			}
			var fx fixture
			if err := yaml.Unmarshal(data, &fx); err != nil {
				return fmt.Errorf("parse %s: %w", from, err)
			}
			pix, err := pixel.NewRing(fx.Level, fx.T0, fx.Dt)
			if err != nil {
				return err
			}
			tbl, err := skydb.Create(skydb.Config{Path: path, Level: fx.Level, T0: fx.T0, Dt: fx.Dt, Logger: slog.Default()}, fx.Name, pix)
			if err != nil {
				return err
			}
			defer tbl.Close()
			for _, cg := range fx.Cgroups {
				def := schema.CgroupSchema{
					Name:        cg.Name,
					PrimaryKey:  cg.PrimaryKey,
					SpatialLon:  cg.SpatialLon,
					SpatialLat:  cg.SpatialLat,
					TemporalKey: cg.TemporalKey,
				}
				for _, c := range cg.Columns {
					def.Columns = append(def.Columns, schema.ColumnDef{Name: c.Name, DType: schema.DType(c.DType)})
				}
				if err := tbl.CreateCgroup(def, false); err != nil {
					return err
				}
			}
			slog.Info("table created", "path", path, "name", fx.Name, "cgroups", len(fx.Cgroups))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "table root directory")
	cmd.Flags().StringVar(&from, "from", "", "YAML table fixture")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newAppendCmd() *cobra.Command {
	var path, group string
	var update, hasCellID bool
	var cellID uint64
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append JSON-lines rows read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			pix, err := openPixelization(path)
			if err != nil {
				return err
			}
			tbl, err := skydb.Open(skydb.Config{Path: path, Logger: slog.Default()}, pix)
			if err != nil {
				return err
			}
			defer tbl.Close()

			cols, err := readColumnsJSONL(os.Stdin)
			if err != nil {
				return err
			}

			opts := skydb.AppendOptions{Group: tablet.Group(group), Update: update}
			if hasCellID {
				c := skydb.CellID(cellID)
				opts.CellID = &c
			}
			out, err := tbl.Append(context.Background(), cols, opts)
			if err != nil {
				return err
			}
			slog.Info("appended", "rows", out.Len(), "nrows", tbl.NRows())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "table root directory")
	cmd.Flags().StringVar(&group, "group", "main", "row group: main or cached")
	cmd.Flags().BoolVar(&update, "update", false, "upsert by primary key (group=main only)")
	cmd.Flags().Uint64Var(&cellID, "cell-id", 0, "force every row into this cell (group=cached only)")
	cmd.Flags().BoolVar(&hasCellID, "explicit-cell", false, "treat --cell-id as set rather than its zero value")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

// readColumnsJSONL decodes one JSON object per line into a columnar
// skydb.Columns batch, column-major.
func readColumnsJSONL(r io.Reader) (skydb.Columns, error) {
	cols := skydb.Columns{}
	dec := json.NewDecoder(r)
	for {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return cols, nil
			}
			return nil, fmt.Errorf("decode row: %w", err)
		}
		for k, v := range row {
			cols[k] = append(cols[k], v)
		}
	}
}

func newFetchCmd() *cobra.Command {
	var path, cgroup string
	var cellID uint64
	var includeCached bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Dump a cgroup's rows for one cell as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			pix, err := openPixelization(path)
			if err != nil {
				return err
			}
			tbl, err := skydb.Open(skydb.Config{Path: path, Logger: slog.Default()}, pix)
			if err != nil {
				return err
			}
			defer tbl.Close()
			rows, err := tbl.Fetch(skydb.CellID(cellID), cgroup, includeCached)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "table root directory")
	cmd.Flags().StringVar(&cgroup, "cgroup", "", "cgroup name (or _PSEUDOCOLS)")
	cmd.Flags().Uint64Var(&cellID, "cell-id", 0, "cell to read")
	cmd.Flags().BoolVar(&includeCached, "include-cached", false, "include the cached neighbor row group")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("cgroup")
	return cmd
}

func newCellsCmd() *cobra.Command {
	var path string
	var includeCached bool
	cmd := &cobra.Command{
		Use:   "cells",
		Short: "List cells known to own a primary-cgroup tablet",
		RunE: func(cmd *cobra.Command, args []string) error {
			pix, err := openPixelization(path)
			if err != nil {
				return err
			}
			tbl, err := skydb.Open(skydb.Config{Path: path, Logger: slog.Default()}, pix)
			if err != nil {
				return err
			}
			defer tbl.Close()
			for _, c := range tbl.Cells(includeCached) {
				fmt.Println(pix.PathToCell(c))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "table root directory")
	cmd.Flags().BoolVar(&includeCached, "include-cached", false, "include cells that only carry neighbor-cache rows")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

// openPixelization peeks schema.cfg's level/t0/dt so a reference
// Pixelization can be constructed before Table.Open needs one — the
// CLI's only privileged knowledge of the on-disk format, since the
// Pixelization contract is otherwise supplied by the caller, not
// derived by the library.
func openPixelization(path string) (*pixel.Ring, error) {
	data, err := os.ReadFile(filepath.Join(path, "schema.cfg"))
	if err != nil {
		return nil, fmt.Errorf("read schema.cfg: %w", err)
	}
	var doc struct {
		Level int     `json:"level"`
		T0    float64 `json:"t0"`
		Dt    float64 `json:"dt"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema.cfg: %w", err)
	}
	return pixel.NewRing(doc.Level, doc.T0, doc.Dt)
}
