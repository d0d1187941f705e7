package qrelay

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Argon2id parameters fixed at account-creation time (§4.3): interactive
// opslimit, 128 MiB memory, a single pass, and a key length matching the
// secretbox key size.
const (
	argon2Time    = 1
	argon2MemKiB  = 128 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

var (
	// ErrHandshakeFailed is returned when the nonce-challenge proof cannot be verified.
	ErrHandshakeFailed = errors.New("qrelay: challenge proof verification failed")
	// ErrDecryptionFailed is returned when a secretbox cannot be opened.
	ErrDecryptionFailed = errors.New("qrelay: decryption failed")
	// ErrBadSaltLength is returned when a decoded password blob is not exactly salt plus key in length.
	ErrBadSaltLength = errors.New("qrelay: stored password blob has unexpected length")
)

// PasswordKey is the 32-byte Argon2id-derived secretbox key for one
// account. It must be zeroized on every terminal failure path and on
// UserInfo destruction (§4.3, invariant #3).
type PasswordKey [argon2KeyLen]byte

// Zero overwrites the key material with zeros in place.
func (k *PasswordKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// HashPassword derives salt||key for a freshly created account and returns
// the base64 (standard, padded) blob stored in user_account.password_b64.
func HashPassword(password []byte) (string, error) {
	if len(password) == 0 {
		return "", errors.New("qrelay: empty password")
	}
	var salt [saltFieldLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", fmt.Errorf("qrelay: draw salt: %w", err)
	}
	key := deriveKey(password, salt[:])
	blob := make([]byte, 0, saltFieldLen+argon2KeyLen)
	blob = append(blob, salt[:]...)
	blob = append(blob, key[:]...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// VerifyPassword recomputes the Argon2id key from password and the salt
// embedded in the stored blob and reports whether it matches. On success
// it also returns the derived key, which becomes the connection's
// secretbox key for the remainder of the challenge.
func VerifyPassword(password []byte, storedBlob string) (PasswordKey, bool, error) {
	salt, storedKey, err := SplitPasswordBlob(storedBlob)
	if err != nil {
		return PasswordKey{}, false, err
	}
	derived := deriveKey(password, salt[:])
	ok := derived == storedKey
	return derived, ok, nil
}

// SplitPasswordBlob decodes the stored base64 password blob into its
// 16-byte salt and 32-byte Argon2id key.
func SplitPasswordBlob(storedBlob string) (salt [saltFieldLen]byte, key PasswordKey, err error) {
	raw, err := base64.StdEncoding.DecodeString(storedBlob)
	if err != nil {
		return salt, key, fmt.Errorf("qrelay: decode password blob: %w", err)
	}
	if len(raw) != saltFieldLen+argon2KeyLen {
		return salt, key, ErrBadSaltLength
	}
	copy(salt[:], raw[:saltFieldLen])
	copy(key[:], raw[saltFieldLen:])
	return salt, key, nil
}

func deriveKey(password, salt []byte) PasswordKey {
	raw := argon2.IDKey(password, salt, argon2Time, argon2MemKiB, argon2Threads, argon2KeyLen)
	var key PasswordKey
	copy(key[:], raw)
	return key
}

// DrawNonce returns a fresh 32-bit server challenge nonce (§4.3).
func DrawNonce() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("qrelay: draw nonce: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// SealProof builds the client-side AUTH_PROOF.nonce_hash: a fresh 24-byte
// XSalsa20-Poly1305 nonce followed by secretbox(plaintext=nonce, key=pwkey).
func SealProof(nonce uint32, key PasswordKey) ([nonceHashFieldLen]byte, error) {
	var out [nonceHashFieldLen]byte
	var boxNonce [24]byte
	if _, err := rand.Read(boxNonce[:]); err != nil {
		return out, fmt.Errorf("qrelay: draw box nonce: %w", err)
	}
	var plain [4]byte
	binary.LittleEndian.PutUint32(plain[:], nonce)

	sealed := secretbox.Seal(nil, plain[:], &boxNonce, (*[32]byte)(&key))
	copy(out[:24], boxNonce[:])
	copy(out[24:], sealed)
	return out, nil
}

// OpenProof decrypts the tail of an AUTH_PROOF.nonce_hash with key and the
// embedded 24-byte nonce, and reports whether the decrypted value equals
// expected (§4.3, §4.5).
func OpenProof(nonceHash [nonceHashFieldLen]byte, key PasswordKey, expected uint32) (bool, error) {
	var boxNonce [24]byte
	copy(boxNonce[:], nonceHash[:24])
	plain, ok := secretbox.Open(nil, nonceHash[24:], &boxNonce, (*[32]byte)(&key))
	if !ok {
		return false, ErrDecryptionFailed
	}
	if len(plain) != 4 {
		return false, ErrHandshakeFailed
	}
	return binary.LittleEndian.Uint32(plain) == expected, nil
}

// EncodePayload base64-encodes (standard, padded) an application payload
// for storage in message_data.message_data_b64 (§4.7).
func EncodePayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodePayload decodes a base64 payload, rejecting any input whose decoded
// length does not match wantLen when wantLen >= 0 (§4.3: "decoding rejects
// inputs whose decoded length does not match the expected field size").
func DecodePayload(encoded string, wantLen int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("qrelay: decode payload: %w", err)
	}
	if wantLen >= 0 && len(raw) != wantLen {
		return nil, ErrBase64Length
	}
	return raw, nil
}
