package archivestore

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	insterrors "github.com/installforge/core/internal/errors"
)

// Codec is the narrow interface the 7-Zip codec is consumed through, per
// spec.md §1's "the 7-Zip codec implementation (consumed through a narrow
// archive interface)". Extract operations (internal/operation) and
// MetadataJob's meta.7z unpacking (internal/metadata) depend on this
// interface, never on a concrete compression library directly.
type Codec interface {
	// Extract decompresses r (an archive stream) into destDir, returning
	// the list of paths it created (for the Extract operation's per-entry
	// undo manifest).
	Extract(r io.Reader, destDir string) ([]string, error)
}

// XZCodec stands in for the real 7-Zip codec using the LZMA2 family
// (github.com/ulikunitz/xz) that the 7z container format itself is built
// on, wrapped in a tar stream the way the teacher's
// internal/installer/extract package layers tar over a decompressor.
type XZCodec struct{}

// Extract implements Codec for a .tar.xz-shaped stream.
func (XZCodec) Extract(r io.Reader, destDir string) ([]string, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open xz stream", err)
	}
	return extractTar(tar.NewReader(xr), destDir)
}

// GzipCodec handles .tar.gz archives, rounding out the codec set the
// teacher's extract package also supports alongside its primary format.
type GzipCodec struct{}

// Extract implements Codec for a .tar.gz-shaped stream.
func (GzipCodec) Extract(r io.Reader, destDir string) ([]string, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open gzip stream", err)
	}
	defer gr.Close()
	return extractTar(tar.NewReader(gr), destDir)
}

func extractTar(tr *tar.Reader, destDir string) ([]string, error) {
	var created []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return created, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "read tar entry", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return created, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "mkdir from archive", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "mkdir parent", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "create extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "write extracted file", err)
			}
			if err := out.Close(); err != nil {
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "close extracted file", err)
			}
			created = append(created, target)
		default:
			// Symlinks and other special entries are skipped; the shipped
			// archive format never needs them for the component data this
			// engine extracts.
		}
	}
	return created, nil
}

// ZipCodec extracts plain .zip archives (the same format archivestore uses
// to materialize directory sources), letting ArchiveStore round-trip
// through archive/zip for both directions.
type ZipCodec struct{}

// Extract implements Codec for a zip stream, which must be fully buffered
// since archive/zip requires a ReaderAt.
func (ZipCodec) Extract(r io.Reader, destDir string) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "buffer zip stream", err)
	}
	zr, err := zip.NewReader(readerAtBytes(data), int64(len(data)))
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open zip stream", err)
	}

	var created []string
	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return created, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return created, insterrors.Wrap(insterrors.CategoryIO, "", "mkdir from zip", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return created, insterrors.Wrap(insterrors.CategoryIO, "", "mkdir parent", err)
		}
		rc, err := f.Open()
		if err != nil {
			return created, insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open zip entry", err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return created, insterrors.Wrap(insterrors.CategoryIO, "", "create extracted file", err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return created, insterrors.Wrap(insterrors.CategoryIO, "", "write extracted file", copyErr)
		}
		if closeErr != nil {
			return created, insterrors.Wrap(insterrors.CategoryIO, "", "close extracted file", closeErr)
		}
		created = append(created, target)
	}
	return created, nil
}

type readerAtBytes []byte

func (b readerAtBytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// safeJoin joins destDir with an archive entry name, rejecting entries
// that would escape destDir via ".." path traversal.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if target != destDir && !isWithin(destDir, target) {
		return "", insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "archive entry escapes destination directory").
			WithDetail("entry", name)
	}
	return target, nil
}

func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
