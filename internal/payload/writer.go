package payload

import (
	"encoding/binary"
	"io"
	"sort"

	insterrors "github.com/installforge/core/internal/errors"
)

// WriterComponent is one component's data to append: a name and its
// archive bodies, each with a name of its own. Archive bytes are streamed
// from Open so large archives never need to be buffered in memory.
type WriterComponent struct {
	Name     string
	Archives []WriterArchive
}

// WriterArchive is one archive's name plus a reader supplying its bytes.
type WriterArchive struct {
	Name string
	Open func() (io.ReadCloser, error)
	Size int64
}

// Writer assembles the appended binary payload (spec.md §6.1) onto an
// io.Writer positioned right after the executable stub it is being glued
// to. Used both by the one-time installer build step and by
// internal/uninstaller's UninstallerWriter (C9), since both produce the
// identical trailer+index shape.
type Writer struct {
	w         io.Writer
	offset    int64 // bytes written so far, used to compute data_block_start-relative offsets
	dataStart int64
}

// NewWriter returns a Writer that will begin appending at the current
// position of w (byte 0 of the data block).
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (wr *Writer) write(p []byte) error {
	n, err := wr.w.Write(p)
	wr.offset += int64(n)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "write payload bytes", err)
	}
	return nil
}

func (wr *Writer) writeInt64(v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return wr.write(buf[:])
}

func (wr *Writer) writeVarBytes(b []byte) error {
	if err := wr.writeInt64(int64(len(b))); err != nil {
		return err
	}
	return wr.write(b)
}

// WriteResources writes the metadata resource segments verbatim (in
// order) and returns their (offset, length) pairs relative to the data
// block start, for later use in the trailer.
func (wr *Writer) WriteResources(resources [][]byte) ([]ResourceRef, error) {
	refs := make([]ResourceRef, 0, len(resources))
	for _, r := range resources {
		start := wr.offset
		if err := wr.write(r); err != nil {
			return nil, err
		}
		refs = append(refs, ResourceRef{Offset: start, Length: int64(len(r))})
	}
	return refs, nil
}

// WriteComponents writes each component's data segment (archive table +
// bodies, spec.md §6.1) in stable name order (invariant I2: two builds of
// the same input produce byte-identical binaries) and returns the
// component index entries ready for WriteComponentIndex.
func (wr *Writer) WriteComponents(components []WriterComponent) ([]ComponentIndexEntry, error) {
	sorted := append([]WriterComponent(nil), components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	entries := make([]ComponentIndexEntry, 0, len(sorted))
	for _, c := range sorted {
		start := wr.offset
		if err := wr.writeComponentSegment(c); err != nil {
			return nil, err
		}
		entries = append(entries, ComponentIndexEntry{Name: c.Name, Offset: start, Length: wr.offset - start})
	}
	return entries, nil
}

func (wr *Writer) writeComponentSegment(c WriterComponent) error {
	if err := wr.writeInt64(int64(len(c.Archives))); err != nil {
		return err
	}

	// Table entries reference offsets relative to the component segment
	// start, which we don't know until the table itself is sized. Compute
	// the table size up front (name length prefix + name + offset + length
	// per entry, matching the "why 16+16=24" formula flagged in spec.md §9)
	// so body offsets can be written in the same pass.
	tableSize := int64(8) // archive_count
	for _, a := range c.Archives {
		tableSize += 8 + int64(len(a.Name)) + 8 + 8
	}

	bodyOffset := tableSize
	for _, a := range c.Archives {
		if err := wr.writeVarBytes([]byte(a.Name)); err != nil {
			return err
		}
		if err := wr.writeInt64(bodyOffset); err != nil {
			return err
		}
		if err := wr.writeInt64(a.Size); err != nil {
			return err
		}
		bodyOffset += a.Size
	}

	for _, a := range c.Archives {
		if err := wr.copyArchiveBody(a); err != nil {
			return err
		}
	}
	return nil
}

func (wr *Writer) copyArchiveBody(a WriterArchive) error {
	rc, err := a.Open()
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "open archive body for writing", err).WithDetail("name", a.Name)
	}
	defer rc.Close()

	written, err := io.Copy(&countingWriter{base: wr}, rc)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "copy archive body", err)
	}
	if written != a.Size {
		return insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveCorrupt, "archive body size mismatch").
			WithDetail("name", a.Name).WithDetail("declared", a.Size).WithDetail("actual", written)
	}
	return nil
}

// countingWriter adapts Writer.write to io.Writer for io.Copy.
type countingWriter struct {
	base *Writer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if err := c.base.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteComponentIndex writes the component index table: count |
// (name, offset, length){count} | count (spec.md §6.1's duplicated
// trailing count redundancy check). entries' offsets come straight from
// WriteComponents, which counts from this Writer's own zero — the same
// zero the data block starts at — so no translation is needed here;
// dataBlockStart is accepted for symmetry with the reader-side naming and
// is always 0 for a fresh Writer.
func (wr *Writer) WriteComponentIndex(entries []ComponentIndexEntry, dataBlockStart int64) (offset, length int64, err error) {
	offset = wr.offset
	if err := wr.writeInt64(int64(len(entries))); err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if err := wr.writeVarBytes([]byte(e.Name)); err != nil {
			return 0, 0, err
		}
		if err := wr.writeInt64(e.Offset - dataBlockStart); err != nil {
			return 0, 0, err
		}
		if err := wr.writeInt64(e.Length); err != nil {
			return 0, 0, err
		}
	}
	if err := wr.writeInt64(int64(len(entries))); err != nil {
		return 0, 0, err
	}
	return offset, wr.offset - offset, nil
}

// TrailerInput collects everything WriteTrailer needs after the index and
// resource tables have been written. Resources' offsets, like
// WriteComponentIndex's entries, already count from this Writer's own
// zero; DataBlockStart is always 0 for a fresh Writer and exists only for
// symmetry with the reader-side Trailer type.
type TrailerInput struct {
	ComponentIndexOffset int64
	ComponentIndexLength int64
	Resources            []ResourceRef
	DataBlockStart        int64
	OperationsStart       int64
	OperationsEnd         int64
	Marker                Marker
	Cookie                Cookie
}

// WriteTrailer writes the component index offset/length pair, the resource
// offset/length table, and the fixed six-int64 trailer + cookie, in
// the exact order spec.md §6.1 requires (reverse of how the reader seeks
// backward from EOF to find them).
func (wr *Writer) WriteTrailer(in TrailerInput) error {
	if err := wr.writeInt64(in.ComponentIndexOffset); err != nil {
		return err
	}
	if err := wr.writeInt64(in.ComponentIndexLength); err != nil {
		return err
	}
	for _, r := range in.Resources {
		if err := wr.writeInt64(r.Offset - in.DataBlockStart); err != nil {
			return err
		}
		if err := wr.writeInt64(r.Length); err != nil {
			return err
		}
	}

	// At this point wr.offset has already advanced past all component and
	// resource content, the component-index offset/length pair, and the
	// resource offset/length table written just above — everything in the
	// data block except the fixed six-int64 trailer still to come.
	dataBlockSize := wr.offset - in.DataBlockStart + fixedTrailerSize

	if err := wr.writeInt64(in.OperationsStart); err != nil {
		return err
	}
	if err := wr.writeInt64(in.OperationsEnd); err != nil {
		return err
	}
	if err := wr.writeInt64(int64(len(in.Resources))); err != nil {
		return err
	}
	if err := wr.writeInt64(dataBlockSize); err != nil {
		return err
	}
	if err := wr.writeInt64(int64(in.Marker)); err != nil {
		return err
	}
	return wr.writeInt64(int64(in.Cookie))
}

// WriteOperations writes the operation undo log (spec.md §6.4): varbytes
// op_name | varbytes xml_serialized, repeated, returning the byte range
// written (for OperationsStart/OperationsEnd in the trailer).
func (wr *Writer) WriteOperations(entries [][2][]byte) (start, end int64, err error) {
	start = wr.offset
	for _, e := range entries {
		if err := wr.writeVarBytes(e[0]); err != nil {
			return 0, 0, err
		}
		if err := wr.writeVarBytes(e[1]); err != nil {
			return 0, 0, err
		}
	}
	return start, wr.offset, nil
}

// Offset returns the number of bytes written so far (relative to the
// start of the data block), useful for computing DataBlockStart when the
// writer is mid-stream on a file whose prior length the caller already
// knows.
func (wr *Writer) Offset() int64 { return wr.offset }
