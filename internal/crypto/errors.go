package crypto

import "errors"

var (
	// ErrDecryptionFailed is returned by every open, unseal, unwrap and
	// expose operation. Wrong keys, wrong passwords and corrupted or
	// truncated ciphertexts all produce this same error.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidSize is returned when a decoded field has an incorrect size.
	ErrInvalidSize = errors.New("invalid size")

	// ErrInvalidContext is returned when a KDF context is not exactly
	// KDFContextSize bytes long.
	ErrInvalidContext = errors.New("invalid key derivation context")

	// ErrSignatureVerificationFailed is returned when signature verification fails.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)
