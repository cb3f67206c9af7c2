// Package uninstaller implements UninstallerWriter (C9, spec.md §4.9): it
// produces the "maintenance tool" binary by copying an installer stub and
// appending a fresh data block (resources, the updated operation undo
// log, a trivial zero-component index, and a trailer carrying the
// uninstaller cookie), then hands the freshly written "<name>.new" file
// to a Replacer for the deferred rename a running executable needs to
// replace itself. It is built on internal/payload.Writer, which already
// implements the exact wire layout spec.md §6.1 mandates; nothing here
// duplicates that format, it only decides what bytes to feed it.
package uninstaller

import (
	"io"
	"os"

	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/payload"
)

// Replacer performs the post-exit swap of "<name>.new" over the running
// executable, since a process cannot replace its own image while it is
// executing on every platform (spec.md §4.9 step 3). The Windows
// detached-helper-script variant, and starting the new binary in
// --updater mode after the swap, are external collaborators — platform
// shell integration is explicitly out of scope per spec.md §1. This
// package ships only the same-process POSIX rename(2) implementation.
type Replacer interface {
	Replace(newPath, targetPath string) error
}

// PosixReplacer renames newPath over targetPath directly, valid on any
// platform where a running executable may be replaced in place.
type PosixReplacer struct{}

// Replace implements Replacer via os.Rename.
func (PosixReplacer) Replace(newPath, targetPath string) error {
	if err := os.Rename(newPath, targetPath); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "rename new maintenance tool into place", err)
	}
	return nil
}

// Source describes what to copy as the new binary's stub and resource
// segments (spec.md §4.9 step 1-2a): either a downloaded replacement
// installer_base_binary (self-update), or the currently running
// executable's own stub and resources.
type Source struct {
	// StubPath is the executable to copy verbatim as the new binary's
	// prefix.
	StubPath string
	// Resources are the existing metadata resource segments, in order,
	// read back with payload.Open + ReadResourceBytes.
	Resources [][]byte
	// ResourceOverride, if non-nil, replaces Resources[0] — the "a
	// user-provided override" case in spec.md §4.9 step 2a.
	ResourceOverride []byte
}

// Entry is one undo-log operation to persist: the name half plus the
// pre-serialized XML value half of spec.md §6.4's wire entry
// (varbytes op_name | varbytes xml_serialized).
type Entry struct {
	Name string
	XML  []byte
}

// Write builds the new maintenance tool at targetPath+".new" from src and
// operations, then asks replacer (PosixReplacer if nil) to swap it into
// place over targetPath. On success the new binary, read back through
// internal/payload, yields an operation list identical to operations up
// to serialization order (spec.md §4.9's round-trip invariant).
func Write(src Source, operations []Entry, targetPath string, replacer Replacer) error {
	newPath := targetPath + ".new"

	if err := copyStub(src.StubPath, newPath); err != nil {
		return err
	}
	if err := appendPayload(newPath, src, operations); err != nil {
		os.Remove(newPath)
		return err
	}

	if replacer == nil {
		replacer = PosixReplacer{}
	}
	return replacer.Replace(newPath, targetPath)
}

func copyStub(stubPath, newPath string) error {
	in, err := os.Open(stubPath)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "open uninstaller stub", err).WithDetail("path", stubPath)
	}
	defer in.Close()

	out, err := os.OpenFile(newPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "create new maintenance tool", err).WithDetail("path", newPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "copy uninstaller stub", err)
	}
	return out.Sync()
}

// appendPayload writes the data block (spec.md §4.9 step 2) onto newPath,
// which must already hold the copied stub bytes.
func appendPayload(newPath string, src Source, operations []Entry) error {
	out, err := os.OpenFile(newPath, os.O_WRONLY|os.O_APPEND, 0o755)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "reopen new maintenance tool for append", err)
	}
	defer out.Close()

	w := payload.NewWriter(out)

	resources := append([][]byte(nil), src.Resources...)
	if src.ResourceOverride != nil && len(resources) > 0 {
		resources[0] = src.ResourceOverride
	}
	resourceRefs, err := w.WriteResources(resources)
	if err != nil {
		return err
	}

	opEntries := make([][2][]byte, len(operations))
	for i, e := range operations {
		opEntries[i] = [2][]byte{[]byte(e.Name), e.XML}
	}
	opsStart, opsEnd, err := w.WriteOperations(opEntries)
	if err != nil {
		return err
	}

	// Uninstallers ship no new components (step 2c: "a trivial component
	// index (zero components — the uninstaller doesn't ship new
	// components)").
	indexOffset, indexLength, err := w.WriteComponentIndex(nil, 0)
	if err != nil {
		return err
	}

	return w.WriteTrailer(payload.TrailerInput{
		ComponentIndexOffset: indexOffset,
		ComponentIndexLength: indexLength,
		Resources:            resourceRefs,
		DataBlockStart:       0,
		OperationsStart:      opsStart,
		OperationsEnd:        opsEnd,
		Marker:               payload.MarkerUninstaller,
		Cookie:               payload.CookieUninstaller,
	})
}

// ReadExisting opens exePath's current payload and returns its resource
// segments and operation undo log as the raw materials Write needs to
// produce an updated maintenance tool — the common case of "copy the
// current executable ... and append a fresh data block" (spec.md §4.9
// step 1).
func ReadExisting(exePath string) (Source, []Entry, error) {
	r, layout, err := payload.Open(exePath)
	if err != nil {
		return Source{}, nil, err
	}
	defer r.Close()

	resources := make([][]byte, len(layout.Resources))
	for i, ref := range layout.Resources {
		data, err := r.ReadResourceBytes(ref)
		if err != nil {
			return Source{}, nil, err
		}
		resources[i] = data
	}

	raw, err := payload.ReadOperations(r, layout)
	if err != nil {
		return Source{}, nil, err
	}
	entries := make([]Entry, len(raw))
	for i, pair := range raw {
		entries[i] = Entry{Name: string(pair[0]), XML: pair[1]}
	}

	return Source{StubPath: exePath, Resources: resources}, entries, nil
}
