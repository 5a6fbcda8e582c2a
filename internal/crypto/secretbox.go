package crypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptSecretbox encrypts plaintext under key with XSalsa20-Poly1305.
// A fresh random nonce is drawn for every call. The result is laid out as
// nonce || tag || ciphertext, the same as libsodium's secretbox_easy output
// prefixed with its nonce.
func EncryptSecretbox(plaintext []byte, key *[SecretboxKeySize]byte) ([]byte, error) {
	var nonce [SecretboxNonceSize]byte
	if err := randomBytes(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, SecretboxNonceSize, SecretboxNonceSize+SecretboxOverhead+len(plaintext))
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, key), nil
}

// DecryptSecretbox reverses EncryptSecretbox. Any failure, including input
// too short to hold a nonce and tag, returns ErrDecryptionFailed.
func DecryptSecretbox(ciphertext []byte, key *[SecretboxKeySize]byte) ([]byte, error) {
	if len(ciphertext) < SecretboxNonceSize+SecretboxOverhead {
		return nil, ErrDecryptionFailed
	}

	var nonce [SecretboxNonceSize]byte
	copy(nonce[:], ciphertext[:SecretboxNonceSize])

	return openDetached(ciphertext[SecretboxNonceSize:], &nonce, key)
}

// sealDetached encrypts plaintext to tag || ciphertext without prepending nonce.
func sealDetached(plaintext []byte, nonce *[SecretboxNonceSize]byte, key *[SecretboxKeySize]byte) []byte {
	return secretbox.Seal(nil, plaintext, nonce, key)
}

// openDetached opens tag || ciphertext whose nonce travels separately.
func openDetached(box []byte, nonce *[SecretboxNonceSize]byte, key *[SecretboxKeySize]byte) ([]byte, error) {
	if len(box) < SecretboxOverhead {
		return nil, ErrDecryptionFailed
	}
	plaintext, ok := secretbox.Open(nil, box, nonce, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
