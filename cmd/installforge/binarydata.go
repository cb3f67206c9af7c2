package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/payload"
	"github.com/installforge/core/internal/uninstaller"
)

// runUpdateInstallerBase implements --update-installerbase PATH (spec.md
// §6.3): copy newStubPath in as this binary's executable prefix, carry
// the current data block's resources and component archives forward
// verbatim, and self-replace — the same deferred-rename mechanism
// internal/uninstaller uses, reused here via uninstaller.PosixReplacer
// rather than duplicating it.
func runUpdateInstallerBase(cmd *cobra.Command, newStubPath string) error {
	current := payloadPath()

	r, layout, err := payload.Open(current)
	if err != nil {
		return err
	}
	defer r.Close()

	resources := make([][]byte, len(layout.Resources))
	for i, ref := range layout.Resources {
		data, err := r.ReadResourceBytes(ref)
		if err != nil {
			return err
		}
		resources[i] = data
	}

	index, err := payload.ReadComponentIndex(r, layout)
	if err != nil {
		return err
	}
	componentBlobs := make(map[string][]byte, len(index.Entries))
	for _, e := range index.Entries {
		buf := make([]byte, e.Length)
		if _, err := r.ReadAt(buf, e.Offset); err != nil {
			return insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component segment for installerbase update", err)
		}
		componentBlobs[e.Name] = buf
	}

	ops, err := payload.ReadOperations(r, layout)
	if err != nil {
		return err
	}

	target := current
	newPath := target + ".new"
	if err := copyFileMode(newStubPath, newPath); err != nil {
		return err
	}
	if err := appendCarriedPayload(newPath, resources, index, componentBlobs, ops, layout.Trailer.Marker, layout.Trailer.Cookie); err != nil {
		os.Remove(newPath)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "installer base updated, self-replacing %s\n", target)
	return uninstaller.PosixReplacer{}.Replace(newPath, target)
}

func copyFileMode(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "open new installer stub", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "create updated installer binary", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "copy new installer stub", err)
	}
	return out.Sync()
}

func appendCarriedPayload(newPath string, resources [][]byte, index *payload.ComponentIndex, blobs map[string][]byte, ops [][2][]byte, marker payload.Marker, cookie payload.Cookie) error {
	out, err := os.OpenFile(newPath, os.O_WRONLY|os.O_APPEND, 0o755)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "reopen updated installer binary for append", err)
	}
	defer out.Close()

	w := payload.NewWriter(out)

	resourceRefs, err := w.WriteResources(resources)
	if err != nil {
		return err
	}

	entries := make([]payload.ComponentIndexEntry, 0, len(index.Entries))
	for _, e := range index.Entries {
		refs, err := w.WriteResources([][]byte{blobs[e.Name]})
		if err != nil {
			return err
		}
		entries = append(entries, payload.ComponentIndexEntry{Name: e.Name, Offset: refs[0].Offset, Length: refs[0].Length})
	}

	opsStart, opsEnd, err := w.WriteOperations(ops)
	if err != nil {
		return err
	}

	indexOffset, indexLength, err := w.WriteComponentIndex(entries, 0)
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
		Marker:               marker,
		Cookie:               cookie,
	})
}

// runDumpBinaryData implements --dump-binary-data -o OUT [-i IN]
// (spec.md §6.3): synthesize a local repository directory from a
// payload's metadata resources and component data segments: one
// directory per component holding its raw data segment (archive table
// followed by archive bodies, unparsed) as data.bin, plus the metadata
// resources saved as numbered resource-N.xml files standing in for
// Updates.xml/components.xml.
func runDumpBinaryData(cmd *cobra.Command, inPath, outDir string) error {
	if outDir == "" {
		return fmt.Errorf("--dump-binary-data requires -o OUT")
	}
	if inPath == "" {
		inPath = payloadPath()
	}

	r, layout, err := payload.Open(inPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "create offline repository directory", err)
	}

	for i, ref := range layout.Resources {
		data, err := r.ReadResourceBytes(ref)
		if err != nil {
			return err
		}
		name := filepath.Join(outDir, fmt.Sprintf("resource-%d.xml", i))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return insterrors.Wrap(insterrors.CategoryIO, "", "write repository metadata resource", err)
		}
	}

	index, err := payload.ReadComponentIndex(r, layout)
	if err != nil {
		return err
	}
	for _, e := range index.Entries {
		buf := make([]byte, e.Length)
		if _, err := r.ReadAt(buf, e.Offset); err != nil {
			return insterrors.Wrap(insterrors.CategoryBinary, insterrors.CodeCorruptIndex, "read component segment for dump-binary-data", err)
		}
		compDir := filepath.Join(outDir, e.Name)
		if err := os.MkdirAll(compDir, 0o755); err != nil {
			return insterrors.Wrap(insterrors.CategoryIO, "", "create component directory", err)
		}
		if err := os.WriteFile(filepath.Join(compDir, "data.bin"), buf, 0o644); err != nil {
			return insterrors.Wrap(insterrors.CategoryIO, "", "write component archive segment", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "synthesized local repository at %s\n", outDir)
	return nil
}
