package metadata_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/download"
	"github.com/installforge/core/internal/metadata"
	"github.com/installforge/core/internal/signing"
	"github.com/installforge/core/internal/state"
)

// recordingVerifier stands in for signing.Verifier: it records the artifact
// bytes and identity it was asked to check and returns a scripted verdict.
type recordingVerifier struct {
	artifact []byte
	id       signing.Identity
	err      error
}

func (v *recordingVerifier) VerifyArtifact(artifact []byte, _ []byte, id signing.Identity) error {
	v.artifact = artifact
	v.id = id
	return v.err
}

const signedUpdatesXML = `<?xml version="1.0"?>
<Updates>
  <PackageUpdate>
    <Name>org.example.core</Name>
    <Version>1.0.0</Version>
  </PackageUpdate>
</Updates>`

func TestJob_RequireSignatureVerifiesBundleBeforeExtract(t *testing.T) {
	client := newScriptedClient()
	client.on("http://repo.example/Updates.xml", xmlResponse(signedUpdatesXML))
	client.on("http://repo.example/org.example.core/1.0.0meta.7z", func() *http.Response {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString("archive-bytes")), Header: http.Header{}}
	})
	client.on("http://repo.example/org.example.core/1.0.0meta.7z.sigstore.json", func() *http.Response {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(`{"bundle":"json"}`)), Header: http.Header{}}
	})

	verifier := &recordingVerifier{}
	cfg := metadata.Config{
		Repositories: []state.Repository{{URL: "http://repo.example", Enabled: true, RequireSignature: true}},
		TempDir:      t.TempDir(),
		Signer:       verifier,
	}
	job := metadata.New(cfg, download.NewWithClient(client, 4), &fakeCodec{})

	extracted, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	require.Equal(t, "archive-bytes", string(verifier.artifact))
	require.Equal(t, "https://token.actions.githubusercontent.com", verifier.id.Issuer)
}

func TestJob_RequireSignatureFailsJobWhenBundleMissing(t *testing.T) {
	client := newScriptedClient()
	client.on("http://repo.example/Updates.xml", xmlResponse(signedUpdatesXML))
	client.on("http://repo.example/org.example.core/1.0.0meta.7z", func() *http.Response {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString("archive-bytes")), Header: http.Header{}}
	})
	// No .sigstore.json route registered: the scriptedClient 404s it.

	cfg := metadata.Config{
		Repositories: []state.Repository{{URL: "http://repo.example", Enabled: true, RequireSignature: true}},
		TempDir:      t.TempDir(),
		Signer:       &recordingVerifier{},
	}
	job := metadata.New(cfg, download.NewWithClient(client, 4), &fakeCodec{})

	_, err := job.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, metadata.StateFailed, job.State())
}
