// Package archivestore implements C2: random-access reading of
// per-component archive byte ranges inside the appended payload
// (mounted mode), and on-the-fly zipping of directory inputs during a
// build (materialized mode), per spec.md §4.2.
package archivestore

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sync"

	insterrors "github.com/installforge/core/internal/errors"
)

// ReaderAt is the narrow interface archivestore needs from the payload
// reader: a single shared handle that many Archives borrow exclusively
// from, one reader at a time, per spec.md §4.2's "borrow-check an
// exclusive handle per reader" note.
type ReaderAt interface {
	io.ReaderAt
}

// Segment is a byte range within the shared payload file.
type Segment struct {
	Start int64
	Len   int64
}

// Source distinguishes where an Archive's bytes come from.
type Source int

const (
	SourceMounted Source = iota
	SourcePath
	SourceInMemory
)

// Archive is a named byte range inside the payload, OR a path on disk
// (possibly a directory zipped lazily on first read), OR an in-memory
// buffer. Archives are read-only once placed in a container: Open for
// write always fails with ArchiveOpenError.
type Archive struct {
	Name   string
	Source Source

	// Mounted fields.
	reader  ReaderAt
	segment Segment
	mu      sync.Mutex // serializes the shared handle's Seek+Read dance
	pos     int64

	// Materialized fields.
	path       string
	zippedPath string // lazily-produced temp zip for directory sources
	memory     []byte
}

// NewMounted returns an Archive reading from a byte range of a shared
// payload handle.
func NewMounted(name string, r ReaderAt, seg Segment) *Archive {
	return &Archive{Name: name, Source: SourceMounted, reader: r, segment: seg}
}

// NewPath returns an Archive backed by a file or directory on disk.
func NewPath(name, path string) *Archive {
	return &Archive{Name: name, Source: SourcePath, path: path}
}

// NewInMemory returns an Archive backed by an in-memory byte slice, used
// by the builder when assembling component data segments before they are
// written to a container.
func NewInMemory(name string, data []byte) *Archive {
	return &Archive{Name: name, Source: SourceInMemory, memory: data}
}

// errOpenForWrite is what Archive.OpenWrite always returns: archives are
// read-only once placed in a container, per spec.md §3.
func (a *Archive) errOpenForWrite() error {
	return insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveOpenError, "archive is read-only once placed in a container").
		WithDetail("name", a.Name)
}

// OpenWrite always fails; present so callers who accidentally try to write
// through an Archive get the documented ArchiveOpenError instead of a
// panic or a silent truncation.
func (a *Archive) OpenWrite() (io.WriteCloser, error) {
	return nil, a.errOpenForWrite()
}

// Read implements a position-independent read against a mounted archive's
// byte range: it performs a ReadAt so the underlying handle's position is
// never disturbed, and serializes access with a mutex since ReaderAt
// implementations are generally not required to be internally
// goroutine-safe unless documented otherwise.
func (a *Archive) Read(p []byte) (int, error) {
	switch a.Source {
	case SourceMounted:
		return a.readMounted(p)
	case SourceInMemory:
		return a.readMemory(p)
	case SourcePath:
		return a.readMaterialized(p)
	default:
		return 0, insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveUnsupported, "unknown archive source")
	}
}

func (a *Archive) readMounted(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := a.segment.Len - a.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := a.reader.ReadAt(p, a.segment.Start+a.pos)
	a.pos += int64(n)
	return n, err
}

func (a *Archive) readMemory(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pos >= int64(len(a.memory)) {
		return 0, io.EOF
	}
	n := copy(p, a.memory[a.pos:])
	a.pos += int64(n)
	return n, nil
}

// readMaterialized opens (zipping on demand) the backing file and reads
// from it; this is not position-independent across concurrent callers by
// design, since materialized archives are single-reader during a build.
func (a *Archive) readMaterialized(p []byte) (int, error) {
	f, err := a.openMaterialized()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(a.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := f.Read(p)
	a.pos += int64(n)
	return n, err
}

// Size returns the mounted segment's length, or the materialized file's
// size (zipping a directory source first if it hasn't been zipped yet).
func (a *Archive) Size() (int64, error) {
	switch a.Source {
	case SourceMounted:
		return a.segment.Len, nil
	case SourceInMemory:
		return int64(len(a.memory)), nil
	case SourcePath:
		f, err := a.openMaterialized()
		if err != nil {
			return 0, err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return 0, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "stat materialized archive", err)
		}
		return fi.Size(), nil
	default:
		return 0, insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveUnsupported, "unknown archive source")
	}
}

// openMaterialized returns a handle on the archive's backing bytes,
// zipping a.path lazily into a.zippedPath if a.path is a directory.
func (a *Archive) openMaterialized() (*os.File, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "stat archive source path", err).WithDetail("path", a.path)
	}

	if !info.IsDir() {
		f, err := os.Open(a.path)
		if err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open archive source file", err)
		}
		return f, nil
	}

	if a.zippedPath == "" {
		zipped, err := zipDirectory(a.path)
		if err != nil {
			return nil, err
		}
		a.zippedPath = zipped
	}

	f, err := os.Open(a.zippedPath)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open materialized zip", err)
	}
	return f, nil
}

// Close releases any temp zip produced for a directory source. Safe to
// call on archives that never materialized anything.
func (a *Archive) Close() error {
	if a.zippedPath == "" {
		return nil
	}
	err := os.Remove(a.zippedPath)
	a.zippedPath = ""
	return err
}

// zipDirectory produces a temp zip file of dir using the standard
// archive/zip codec. This is an ambient concern (the store's own
// on-the-fly zipping of plain directories), not the domain 7z codec
// (internal/archivestore/codec.go) used for reading shipped component
// archives.
func zipDirectory(dir string) (string, error) {
	tmp, err := os.CreateTemp("", "installforge-archive-*.zip")
	if err != nil {
		return "", insterrors.Wrap(insterrors.CategoryIO, "", "create temp zip", err)
	}
	defer tmp.Close()

	zw := zip.NewWriter(tmp)
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		zw.Close()
		os.Remove(tmp.Name())
		return "", insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "zip directory source", walkErr).WithDetail("dir", dir)
	}
	if err := zw.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "finalize zip", err)
	}
	return tmp.Name(), nil
}

// Store indexes the Archives belonging to one Component's binary segment,
// giving InstallRuntime/Extract lookups by name.
type Store struct {
	archives map[string]*Archive
}

// NewStore builds a Store from a set of archives.
func NewStore(archives []*Archive) *Store {
	m := make(map[string]*Archive, len(archives))
	for _, a := range archives {
		m[a.Name] = a
	}
	return &Store{archives: m}
}

// Get looks up an archive by name.
func (s *Store) Get(name string) (*Archive, bool) {
	a, ok := s.archives[name]
	return a, ok
}

// Close releases every materialized archive's temp zip.
func (s *Store) Close() error {
	var firstErr error
	for _, a := range s.archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
