package payload

import (
	"encoding/binary"
	"io"

	insterrors "github.com/installforge/core/internal/errors"
)

// ComponentArchive names one archive inside a component's data segment,
// with absolute file offsets already translated.
type ComponentArchive struct {
	Name   string
	Offset int64
	Length int64
}

// ReadComponentArchives parses one component's data segment (spec.md
// §6.1: "Each component data segment": archive_count |
// (name, offset, length){archive_count} | archive bodies), given the
// component's absolute offset/length from the component index.
func ReadComponentArchives(r *Reader, entry ComponentIndexEntry) ([]ComponentArchive, error) {
	sr := io.NewSectionReader(r.file, entry.Offset, entry.Length)

	var count int64
	if err := binary.Read(sr, binary.LittleEndian, &count); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component archive count", err).WithDetail("component", entry.Name)
	}
	if count < 0 || count > 1<<20 {
		return nil, insterrors.New(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "component archive count out of sane range").WithDetail("count", count)
	}

	archives := make([]ComponentArchive, count)
	var tableEnd int64
	for i := int64(0); i < count; i++ {
		name, err := readVarBytes(sr)
		if err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read archive name", err).WithDetail("entry", i)
		}
		var offset, length int64
		if err := binary.Read(sr, binary.LittleEndian, &offset); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read archive offset", err)
		}
		if err := binary.Read(sr, binary.LittleEndian, &length); err != nil {
			return nil, insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read archive length", err)
		}
		archives[i] = ComponentArchive{
			Name:   string(name),
			Offset: entry.Offset + offset,
			Length: length,
		}
		if end := offset + length; end > tableEnd {
			tableEnd = end
		}
	}

	return archives, nil
}
