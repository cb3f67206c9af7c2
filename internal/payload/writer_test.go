package payload_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/payload"
)

// buildContainer writes a stub prefix followed by a full payload (three
// components: root, root.child, other) to a temp file and returns its
// path, matching the concrete scenario in spec.md §8.3.
func buildContainer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "installer.bin")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("FAKE-STUB-BYTES"))
	require.NoError(t, err)

	w := payload.NewWriter(f)

	resources, err := w.WriteResources([][]byte{[]byte("<metadata/>")})
	require.NoError(t, err)

	childBlob := bytes.Repeat([]byte{0xAB}, 1<<20)
	components := []payload.WriterComponent{
		{Name: "root", Archives: nil},
		{
			Name: "root.child",
			Archives: []payload.WriterArchive{
				{
					Name: "data.bin",
					Size: int64(len(childBlob)),
					Open: func() (io.ReadCloser, error) {
						return io.NopCloser(bytes.NewReader(childBlob)), nil
					},
				},
			},
		},
		{Name: "other", Archives: nil},
	}

	entries, err := w.WriteComponents(components)
	require.NoError(t, err)

	indexOffset, indexLength, err := w.WriteComponentIndex(entries, 0)
	require.NoError(t, err)

	err = w.WriteTrailer(payload.TrailerInput{
		ComponentIndexOffset: indexOffset,
		ComponentIndexLength:  indexLength,
		Resources:             resources,
		DataBlockStart:        0,
		OperationsStart:       0,
		OperationsEnd:         0,
		Marker:                payload.MarkerInstaller,
		Cookie:                payload.CookieInstaller,
	})
	require.NoError(t, err)

	return path
}

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()
	path := buildContainer(t)

	r, layout, err := payload.Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, payload.CookieInstaller, layout.Trailer.Cookie)
	require.Equal(t, payload.MarkerInstaller, layout.Trailer.Marker)
	require.Len(t, layout.Resources, 1)

	index, err := payload.ReadComponentIndex(r, layout)
	require.NoError(t, err)
	require.Len(t, index.Entries, 3)

	names := make(map[string]payload.ComponentIndexEntry)
	for _, e := range index.Entries {
		names[e.Name] = e
	}
	require.Contains(t, names, "root")
	require.Contains(t, names, "root.child")
	require.Contains(t, names, "other")

	archives, err := payload.ReadComponentArchives(r, names["root.child"])
	require.NoError(t, err)
	require.Len(t, archives, 1)
	require.Equal(t, "data.bin", archives[0].Name)
	require.EqualValues(t, 1<<20, archives[0].Length)

	buf := make([]byte, archives[0].Length)
	_, err = r.ReadAt(buf, archives[0].Offset)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 1<<20), buf)
}

func TestWriterReaderRoundTrip_MultipleResourcesPreserveOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "installer.bin")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := payload.NewWriter(f)

	resources, err := w.WriteResources([][]byte{[]byte("AAAA"), []byte("BB")})
	require.NoError(t, err)

	entries, err := w.WriteComponents(nil)
	require.NoError(t, err)

	indexOffset, indexLength, err := w.WriteComponentIndex(entries, 0)
	require.NoError(t, err)

	err = w.WriteTrailer(payload.TrailerInput{
		ComponentIndexOffset: indexOffset,
		ComponentIndexLength: indexLength,
		Resources:            resources,
		DataBlockStart:       0,
		OperationsStart:      0,
		OperationsEnd:        0,
		Marker:               payload.MarkerInstaller,
		Cookie:               payload.CookieInstaller,
	})
	require.NoError(t, err)

	r, layout, err := payload.Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, layout.Resources, 2)

	got0 := make([]byte, layout.Resources[0].Length)
	_, err = r.ReadAt(got0, layout.Resources[0].Offset)
	require.NoError(t, err)
	require.Equal(t, []byte("AAAA"), got0)

	got1 := make([]byte, layout.Resources[1].Length)
	_, err = r.ReadAt(got1, layout.Resources[1].Offset)
	require.NoError(t, err)
	require.Equal(t, []byte("BB"), got1)
}

func TestFindCookie_SamePositionAcrossRepeatedOpens(t *testing.T) {
	t.Parallel()
	path := buildContainer(t)

	r1, l1, err := payload.Open(path)
	require.NoError(t, err)
	defer r1.Close()

	r2, l2, err := payload.Open(path)
	require.NoError(t, err)
	defer r2.Close()

	require.Equal(t, l1.Trailer.CookiePos, l2.Trailer.CookiePos)
}
