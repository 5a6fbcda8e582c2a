package crypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SealAnonymous encrypts message to recipient with an ephemeral sender
// keypair, so the ciphertext carries no sender identity. Compatible with
// libsodium's crypto_box_seal.
func SealAnonymous(message []byte, recipient *[BoxPublicKeySize]byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, message, recipient, randReader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return out, nil
}

// OpenAnonymous decrypts a sealed box addressed to the given keypair.
func OpenAnonymous(ciphertext []byte, publicKey *[BoxPublicKeySize]byte, privateKey *[BoxPrivateKeySize]byte) ([]byte, error) {
	if len(ciphertext) < SealOverhead {
		return nil, ErrDecryptionFailed
	}
	message, ok := box.OpenAnonymous(nil, ciphertext, publicKey, privateKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return message, nil
}
