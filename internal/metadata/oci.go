package metadata

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/state"
)

// OCIFetcher resolves "oci://" repository URLs against an OCI registry
// instead of a plain web server, for sites that publish Updates.xml and
// meta.7z packages as container image layers. Grounded on the
// name.ParseReference/remote.Image API shape the teacher's
// internal/verify/oci.go uses for cosign signature lookups; MetadataJob
// exercises the same package for plain artifact retrieval rather than
// signature verification.
type OCIFetcher struct{}

// IsOCIRepository reports whether repoURL names an OCI registry rather than
// an HTTP(S) endpoint.
func IsOCIRepository(repoURL string) bool {
	return strings.HasPrefix(repoURL, "oci://")
}

// firstLayer resolves ref and returns the uncompressed bytes of its first
// layer, which is where this engine expects a single-file artifact (an
// Updates.xml or a meta.7z) to live.
func (OCIFetcher) firstLayer(ctx context.Context, ref string) (io.ReadCloser, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "parse oci reference", err).WithDetail("ref", ref)
	}
	img, err := remote.Image(r, remote.WithContext(ctx))
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryNetwork, insterrors.CodeTolerableMissing, "fetch oci image", err).WithDetail("ref", ref)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "read oci image layers", err).WithDetail("ref", ref)
	}
	if len(layers) == 0 {
		return nil, insterrors.New(insterrors.CategoryNetwork, "", "oci image has no layers").WithDetail("ref", ref)
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "read oci layer", err).WithDetail("ref", ref)
	}
	return rc, nil
}

// updatesRef and archiveRef build the image references this engine expects
// an OCI-hosted repository to publish: a fixed "updates" tag for the
// manifest document and a "<name>-<version>" tag per package archive.
func updatesRef(repoURL string) string {
	return strings.TrimSuffix(strings.TrimPrefix(repoURL, "oci://"), "/") + ":updates"
}

func archiveRefFor(repoURL string, p PendingPackage) string {
	base := strings.TrimSuffix(strings.TrimPrefix(repoURL, "oci://"), "/")
	tag := sanitizeTag(p.Update.Name + "-" + p.Update.Version)
	return base + ":" + tag
}

func sanitizeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func (j *Job) fetchOCIUpdatesXML(ctx context.Context, repo state.Repository) ([]byte, error) {
	rc, err := j.oci.firstLayer(ctx, updatesRef(repo.URL))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (j *Job) fetchOCIArchive(ctx context.Context, p PendingPackage) (string, error) {
	rc, err := j.oci.firstLayer(ctx, archiveRefFor(p.Repository.URL, p))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "installforge-oci-archive-*")
	if err != nil {
		return "", insterrors.Wrap(insterrors.CategoryIO, "", "create oci archive tempfile", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, rc); err != nil {
		return "", insterrors.Wrap(insterrors.CategoryIO, "", "write oci archive tempfile", err)
	}
	return tmp.Name(), nil
}
