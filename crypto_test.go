package qrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	blob, err := HashPassword([]byte("correct horse battery staple"))
	require.NoError(t, err)

	_, ok, err := VerifyPassword([]byte("correct horse battery staple"), blob)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = VerifyPassword([]byte("wrong password"), blob)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword(nil)
	assert.Error(t, err)
}

func TestSplitPasswordBlobRejectsBadLength(t *testing.T) {
	_, _, err := SplitPasswordBlob("dG9vc2hvcnQ=")
	assert.ErrorIs(t, err, ErrBadSaltLength)
}

func TestSealAndOpenProof(t *testing.T) {
	blob, err := HashPassword([]byte("hunter2"))
	require.NoError(t, err)
	_, key, err := SplitPasswordBlob(blob)
	require.NoError(t, err)

	nonce, err := DrawNonce()
	require.NoError(t, err)

	proof, err := SealProof(nonce, key)
	require.NoError(t, err)

	ok, err := OpenProof(proof, key, nonce)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenProofRejectsWrongNonce(t *testing.T) {
	blob, err := HashPassword([]byte("hunter2"))
	require.NoError(t, err)
	_, key, err := SplitPasswordBlob(blob)
	require.NoError(t, err)

	nonce, err := DrawNonce()
	require.NoError(t, err)
	proof, err := SealProof(nonce, key)
	require.NoError(t, err)

	ok, err := OpenProof(proof, key, nonce+1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenProofRejectsWrongKey(t *testing.T) {
	nonce, err := DrawNonce()
	require.NoError(t, err)

	var key1, key2 PasswordKey
	key1[0] = 1
	key2[0] = 2

	proof, err := SealProof(nonce, key1)
	require.NoError(t, err)

	_, err = OpenProof(proof, key2, nonce)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	encoded := EncodePayload(payload)

	decoded, err := DecodePayload(encoded, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePayloadRejectsLengthMismatch(t *testing.T) {
	encoded := EncodePayload([]byte{1, 2, 3})
	_, err := DecodePayload(encoded, 10)
	assert.ErrorIs(t, err, ErrBase64Length)
}

func TestPasswordKeyZero(t *testing.T) {
	var key PasswordKey
	key[0] = 0xFF
	key.Zero()
	assert.Equal(t, PasswordKey{}, key)
}
