package signing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/installforge/core/internal/signing"
)

func TestNullVerifierAlwaysPasses(t *testing.T) {
	t.Parallel()
	var v signing.Verifier = signing.Null{}
	err := v.VerifyArtifact([]byte("archive bytes"), []byte("not even json"), signing.Identity{
		Issuer:    "https://token.actions.githubusercontent.com",
		SANRegexp: ".*",
	})
	assert.NoError(t, err)
}

func TestSigstoreVerifierRejectsMalformedBundle(t *testing.T) {
	t.Parallel()
	v := signing.NewSigstoreVerifier()
	err := v.VerifyArtifact([]byte("archive bytes"), []byte("{not valid json"), signing.Identity{
		Issuer:    "https://token.actions.githubusercontent.com",
		SANRegexp: ".*",
	})
	assert.Error(t, err)
}
