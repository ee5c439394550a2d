package hash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trevvos-auth/internal/model"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	digest, err := Hash("hunter2-secret")
	require.NoError(t, err)
	require.NotEmpty(t, digest)
	require.NotContains(t, digest, "hunter2-secret")

	ok, err := Verify("hunter2-secret", digest)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashIsSaltedButStillVerifies(t *testing.T) {
	t.Parallel()

	first, err := Hash("same-input")
	require.NoError(t, err)
	second, err := Hash("same-input")
	require.NoError(t, err)

	require.NotEqual(t, first, second)

	for _, digest := range []string{first, second} {
		ok, err := Verify("same-input", digest)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestVerifyMismatchIsNotAnError(t *testing.T) {
	t.Parallel()

	digest, err := Hash("correct-password")
	require.NoError(t, err)

	ok, err := Verify("correct-passwore", digest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyCorruptDigest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		digest string
	}{
		{name: "empty digest", digest: ""},
		{name: "truncated digest", digest: "$2a$12$short"},
		{name: "not a bcrypt hash", digest: "plaintext-left-over-from-a-bad-migration"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, err := Verify("whatever", tt.digest)
			require.False(t, ok)
			require.ErrorIs(t, err, model.ErrCorruptCredential)
		})
	}
}

func TestHashRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := Hash("")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
