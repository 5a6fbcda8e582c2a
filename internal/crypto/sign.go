package crypto

import (
	"github.com/cloudflare/circl/sign/ed25519"
)

// Sign produces a deterministic Ed25519 signature over message using the
// private key expanded from seed.
func Sign(message []byte, seed *[SigningSeedSize]byte) [SignatureSize]byte {
	priv := ed25519.NewKeyFromSeed(seed[:])

	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(priv, message))
	return sig
}

// Verify reports an error unless sig is a valid signature of message by publicKey.
func Verify(message []byte, sig *[SignatureSize]byte, publicKey *[SigningPublicKeySize]byte) error {
	if !ed25519.Verify(ed25519.PublicKey(publicKey[:]), message, sig[:]) {
		return ErrSignatureVerificationFailed
	}
	return nil
}

// signingPublicKey returns the Ed25519 public key for seed.
func signingPublicKey(seed *[SigningSeedSize]byte) [SigningPublicKeySize]byte {
	priv := ed25519.NewKeyFromSeed(seed[:])

	var pub [SigningPublicKeySize]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub
}
