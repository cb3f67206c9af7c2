package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	insterrors "github.com/installforge/core/internal/errors"
)

// Reader gives random access to an opened payload-bearing file: either the
// executable itself, or a companion .dat file when the marker says the
// payload lives there instead.
type Reader struct {
	file    *os.File
	exePath string
}

// Layout is the parsed trailer plus the resource table, returned alongside
// a Reader by Open.
type Layout struct {
	Trailer   Trailer
	Resources []ResourceRef
}

// Open finds, validates, and parses the payload trailer for exePath,
// following the companion-.dat-file rule when the marker recovered from
// exePath itself is not the installer marker.
func Open(exePath string) (*Reader, *Layout, error) {
	f, err := os.Open(exePath)
	if err != nil {
		return nil, nil, insterrors.Wrap(insterrors.CategoryIO, "", "open executable", err).WithDetail("path", exePath)
	}

	layout, err := readLayout(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	if layout.Trailer.Marker != MarkerInstaller {
		if companion, companionLayout, ok := tryCompanion(exePath); ok {
			f.Close()
			return companion, companionLayout, nil
		}
	}

	return &Reader{file: f, exePath: exePath}, layout, nil
}

// tryCompanion probes "<basename>.dat" next to exePath, and the macOS
// app-bundle layout where the .dat lives one directory up inside a
// Resources sibling, returning the first one that carries a valid
// separated-data trailer.
func tryCompanion(exePath string) (*Reader, *Layout, bool) {
	dir := filepath.Dir(exePath)
	base := filepath.Base(exePath)
	datName := trimExt(base) + ".dat"

	candidates := []string{
		filepath.Join(dir, datName),
		filepath.Join(filepath.Dir(dir), "Resources", datName),
	}

	for _, candidate := range candidates {
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		layout, err := readLayout(f)
		if err != nil || layout.Trailer.Cookie != CookieSeparatedData {
			f.Close()
			continue
		}
		return &Reader{file: f, exePath: exePath}, layout, true
	}

	return nil, nil, false
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ExePath returns the identity path Open was called with, which may differ
// from the file actually backing reads when a companion .dat is in use.
func (r *Reader) ExePath() string {
	return r.exePath
}

// readLayout performs the cookie search, trailer parse, and resource-table
// read against an already-open file.
func readLayout(f *os.File) (*Layout, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "seek to end", err)
	}

	cookiePos, cookie, err := findCookie(f, size)
	if err != nil {
		return nil, err
	}

	trailer, err := parseTrailer(f, cookiePos, cookie)
	if err != nil {
		return nil, err
	}

	resources, err := readResources(f, trailer)
	if err != nil {
		return nil, err
	}

	if err := readComponentIndexOffsets(f, trailer); err != nil {
		return nil, err
	}

	return &Layout{Trailer: *trailer, Resources: resources}, nil
}

// findCookie scans the last min(1 MiB, file_size) bytes backward, one byte
// at a time, for any of the known 64-bit cookie values.
func findCookie(f *os.File, size int64) (int64, Cookie, error) {
	window := size
	if window > maxCookieSearch {
		window = maxCookieSearch
	}
	if window < sizeOfInt64 {
		return 0, 0, insterrors.New(insterrors.CategoryBinary, insterrors.CodeMagicNotFound, "file too small to carry a payload cookie")
	}

	start := size - window
	buf := make([]byte, window)
	if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
		return 0, 0, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeMagicNotFound, "read cookie search window", err)
	}

	for pos := int64(len(buf)) - sizeOfInt64; pos >= 0; pos-- {
		candidate := int64(binary.LittleEndian.Uint64(buf[pos : pos+sizeOfInt64]))
		for _, known := range knownCookies {
			if Cookie(candidate) == known {
				return start + pos, known, nil
			}
		}
	}

	return 0, 0, insterrors.New(insterrors.CategoryBinary, insterrors.CodeMagicNotFound, "magic cookie not found in trailing search window").WithDetail("window", window)
}

func parseTrailer(f *os.File, cookiePos int64, cookie Cookie) (*Trailer, error) {
	fixedStart := cookiePos - 5*sizeOfInt64
	if fixedStart < 0 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "trailer extends before start of file")
	}

	fixed := make([]byte, 5*sizeOfInt64)
	if _, err := f.ReadAt(fixed, fixedStart); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "read fixed trailer fields", err)
	}

	r := bytes.NewReader(fixed)
	var operationsStart, operationsEnd, resourceCount, dataBlockSize, marker int64
	for _, dst := range []*int64{&operationsStart, &operationsEnd, &resourceCount, &dataBlockSize, &marker} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "decode trailer field", err)
		}
	}

	if resourceCount < 0 || resourceCount > 1<<20 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "resource count out of sane range").WithDetail("resource_count", resourceCount)
	}
	if dataBlockSize < 0 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "negative data block size")
	}

	endOfData := cookiePos + sizeOfInt64
	dataBlockStart := endOfData - dataBlockSize
	if dataBlockStart < 0 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "data block start precedes beginning of file")
	}

	return &Trailer{
		CookiePos:       cookiePos,
		Cookie:          cookie,
		OperationsStart: operationsStart,
		OperationsEnd:   operationsEnd,
		ResourceCount:   resourceCount,
		DataBlockSize:   dataBlockSize,
		Marker:          Marker(marker),
		EndOfData:       endOfData,
		DataBlockStart:  dataBlockStart,
	}, nil
}

// readResources reads the resource_count (offset, length) pairs that sit
// between the component index fields and the fixed trailer, translating
// offsets by +data_block_start.
func readResources(f *os.File, t *Trailer) ([]ResourceRef, error) {
	refs := make([]ResourceRef, t.ResourceCount)

	for i := int64(0); i < t.ResourceCount; i++ {
		pos := t.EndOfData - fixedTrailerSize - 2*sizeOfInt64*t.ResourceCount + 2*sizeOfInt64*i
		if pos < 0 {
			return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "resource table entry precedes start of file").WithDetail("index", i)
		}
		pair := make([]byte, 2*sizeOfInt64)
		if _, err := f.ReadAt(pair, pos); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read resource table entry", err)
		}
		offset := int64(binary.LittleEndian.Uint64(pair[0:8]))
		length := int64(binary.LittleEndian.Uint64(pair[8:16]))
		refs[i] = ResourceRef{Offset: t.DataBlockStart + offset, Length: length}
	}

	return refs, nil
}

// readComponentIndexOffsets reads the component_index_offset/length pair
// that sits immediately before the resource table and stores the result on
// t (relative to data_block_start, per the layout).
func readComponentIndexOffsets(f *os.File, t *Trailer) error {
	pos := t.EndOfData - fixedTrailerSize - 2*sizeOfInt64*t.ResourceCount - 2*sizeOfInt64
	if pos < 0 {
		return insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "component index fields precede start of file")
	}
	pair := make([]byte, 2*sizeOfInt64)
	if _, err := f.ReadAt(pair, pos); err != nil {
		return insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component index offset/length", err)
	}
	t.ComponentIndexOffset = int64(binary.LittleEndian.Uint64(pair[0:8]))
	t.ComponentIndexLength = int64(binary.LittleEndian.Uint64(pair[8:16]))
	return nil
}

// ReadComponentIndex reads the component index table: count |
// (name, offset, length){count} | count. The duplicated trailing count is
// a redundancy check; a mismatch surfaces CorruptIndex.
func ReadComponentIndex(r *Reader, layout *Layout) (*ComponentIndex, error) {
	t := layout.Trailer
	absOffset := t.DataBlockStart + t.ComponentIndexOffset

	sr := io.NewSectionReader(r.file, absOffset, t.ComponentIndexLength)

	var count int64
	if err := binary.Read(sr, binary.LittleEndian, &count); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component index count", err)
	}
	if count < 0 || count > 1<<20 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "component index count out of sane range").WithDetail("count", count)
	}

	entries := make([]ComponentIndexEntry, count)
	for i := int64(0); i < count; i++ {
		name, err := readVarBytes(sr)
		if err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component index name", err).WithDetail("entry", i)
		}
		var offset, length int64
		if err := binary.Read(sr, binary.LittleEndian, &offset); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component data offset", err)
		}
		if err := binary.Read(sr, binary.LittleEndian, &length); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component data length", err)
		}
		entries[i] = ComponentIndexEntry{
			Name:   string(name),
			Offset: t.DataBlockStart + offset,
			Length: length,
		}
	}

	var trailingCount int64
	if err := binary.Read(sr, binary.LittleEndian, &trailingCount); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read trailing component index count", err)
	}
	if trailingCount != count {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "component index leading/trailing count mismatch").
			WithDetail("leading", count).WithDetail("trailing", trailingCount)
	}

	return &ComponentIndex{Entries: entries}, nil
}

func readVarBytes(r io.Reader) ([]byte, error) {
	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || n > 1<<20 {
		return nil, fmt.Errorf("payload: varbytes length %d out of sane range", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt implements io.ReaderAt against the underlying payload file, for
// callers (archivestore) that need to read component data segments.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(p, off)
}

// ReadResourceBytes reads one metadata resource segment's raw bytes, for
// callers (internal/uninstaller) that need to copy resources verbatim into
// a freshly written payload.
func (r *Reader) ReadResourceBytes(ref ResourceRef) ([]byte, error) {
	buf := make([]byte, ref.Length)
	if _, err := r.file.ReadAt(buf, ref.Offset); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read metadata resource", err)
	}
	return buf, nil
}

// ReadOperations reads the undo log's varbytes op_name | varbytes xml pairs
// stored between operations_start and operations_end (spec.md §6.4),
// translating both bounds by +data_block_start per the layout's own
// invariant that every stored offset is relative to it.
func ReadOperations(r *Reader, layout *Layout) ([][2][]byte, error) {
	t := layout.Trailer
	start := t.DataBlockStart + t.OperationsStart
	end := t.DataBlockStart + t.OperationsEnd
	if end < start {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeTrailerInvalid, "operations_end precedes operations_start")
	}

	sr := io.NewSectionReader(r.file, start, end-start)
	var out [][2][]byte
	for {
		name, err := readVarBytes(sr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read operation name", err)
		}
		xmlBlob, err := readVarBytes(sr)
		if err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read operation xml", err)
		}
		out = append(out, [2][]byte{name, xmlBlob})
	}
	return out, nil
}
