// Package fgroup resolves "lsd:<table>:<fgroup>:<path>" URIs against a
// table's external file groups, applying each group's I/O filter
// (gzip, bzip2, or none).
//
// No ecosystem compression library appears in the example corpus for
// anything beyond what the standard library already covers, so this
// component is one of the module's few stdlib-only pieces — justified
// in DESIGN.md rather than reached for an out-of-pack dependency.
package fgroup

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Lookup resolves a file group by name to its root directory and filter.
// It returns the group's directory and filter ("", "gzip", or "bzip2");
// ok is false if the group is undeclared.
type Lookup func(name string) (dir, filter string, ok bool)

// Resolve parses a "lsd:<table>:<fgroup>:<path>" URI and opens the target
// file through its file group's filter.
func Resolve(uri string, lookup Lookup) (io.ReadCloser, error) {
	const prefix = "lsd:"
	if !strings.HasPrefix(uri, prefix) {
		return nil, fmt.Errorf("fgroup: uri %q missing %q prefix", uri, prefix)
	}
	parts := strings.SplitN(uri[len(prefix):], ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("fgroup: uri %q must be lsd:<table>:<fgroup>:<path>", uri)
	}
	_, fgroupName, rel := parts[0], parts[1], parts[2]

	dir, filter, ok := lookup(fgroupName)
	if !ok {
		return nil, fmt.Errorf("fgroup: unknown file group %q", fgroupName)
	}
	return Open(filepath.Join(dir, rel), filter)
}

// Open opens path through the named filter ("", "gzip", or "bzip2").
// bzip2 is read-only: no ecosystem bzip2 writer is available either in
// this corpus or the standard library, matching the reference
// implementation, which also only ever decompresses bzip2.
func Open(path, filter string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fgroup: open %s: %w", path, err)
	}
	switch filter {
	case "":
		return f, nil
	case "gzip":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("fgroup: gzip %s: %w", path, err)
		}
		return &readCloser{Reader: gz, closer: f}, nil
	case "bzip2":
		return &readCloser{Reader: bufio.NewReader(bzip2.NewReader(f)), closer: f}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("fgroup: unknown filter %q", filter)
	}
}

// Create opens path for writing through the named filter ("" or "gzip";
// bzip2 has no writer, see Open).
func Create(path, filter string, gzipLevel int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("fgroup: mkdir for %s: %w", path, err)
	}
	switch filter {
	case "":
		return os.Create(path)
	case "gzip":
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if gzipLevel == 0 {
			gzipLevel = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(f, gzipLevel)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &writeCloser{Writer: gz, gz: gz, f: f}, nil
	case "bzip2":
		return nil, fmt.Errorf("fgroup: bzip2 file groups are read-only")
	default:
		return nil, fmt.Errorf("fgroup: unknown filter %q", filter)
	}
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }

type writeCloser struct {
	io.Writer
	gz *gzip.Writer
	f  *os.File
}

func (w *writeCloser) Close() error {
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
