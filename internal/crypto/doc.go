// Package crypto provides the cryptographic primitives and key hierarchy of
// the Not Without Help protocol. Every construction is byte-compatible with
// libsodium, so links and ciphertexts interoperate with browser clients.
//
// # Algorithm Suite
//
//   - XSalsa20-Poly1305 (secretbox): authenticated symmetric encryption for
//     the wrapped private primary key and link-scoped comments.
//
//   - X25519 sealed boxes: anonymous public-key encryption for submission
//     bodies and key comments. The ciphertext carries no sender identity.
//
//   - BLAKE2b KDF: derives working keys from the secret link key. Slot 1
//     ("nwh-wrap") is the wrapping key and slot 2 ("nwh-sign") the signing seed.
//
//   - Argon2id: stretches a password into the key that protects a secret
//     link key, with libsodium's interactive limits.
//
//   - Ed25519: deterministic signatures answering API challenges.
//
// # Key Hierarchy
//
//	SecretLinkKey ──KDF(1)──▶ SecretWrappingKey ──secretbox──▶ WrappedPrivatePrimaryKey
//	              └─KDF(2)──▶ PrivateSigningKey ──▶ PublicSigningKey
//
// Each key kind is its own named type, so a signing key cannot be passed
// where a wrapping key is expected. Secret types print as [REDACTED].
//
// # Failure Model
//
// Every decryption path returns [ErrDecryptionFailed] and nothing else. A
// wrong key, a wrong password and a corrupted ciphertext look the same to
// the caller.
package crypto
