package crypto

const (
	// SecretLinkKeySize is the size of a secret link key (the KDF master key) in bytes.
	SecretLinkKeySize = 32

	// SecretboxKeySize is the size of an XSalsa20-Poly1305 key in bytes.
	SecretboxKeySize = 32
	// SecretboxNonceSize is the size of an XSalsa20-Poly1305 nonce in bytes.
	SecretboxNonceSize = 24
	// SecretboxOverhead is the size of the Poly1305 authentication tag in bytes.
	SecretboxOverhead = 16

	// BoxPublicKeySize is the size of an X25519 public key in bytes.
	BoxPublicKeySize = 32
	// BoxPrivateKeySize is the size of an X25519 private key in bytes.
	BoxPrivateKeySize = 32
	// SealOverhead is the number of bytes a sealed box adds to its message:
	// the ephemeral public key followed by the authentication tag.
	SealOverhead = BoxPublicKeySize + SecretboxOverhead

	// SigningSeedSize is the size of an Ed25519 private key seed in bytes.
	SigningSeedSize = 32
	// SigningPublicKeySize is the size of an Ed25519 public key in bytes.
	SigningPublicKeySize = 32
	// SignatureSize is the size of an Ed25519 signature in bytes.
	SignatureSize = 64

	// PasswordSaltSize is the size of an Argon2id salt in bytes.
	PasswordSaltSize = 16
	// PasswordNonceSize is the size of the nonce used to protect a secret link key.
	PasswordNonceSize = SecretboxNonceSize
	// ProtectedSecretLinkKeySize is the size of a password-protected secret link key.
	ProtectedSecretLinkKeySize = SecretboxOverhead + SecretLinkKeySize

	// KDFContextSize is the exact length of a key derivation context string.
	KDFContextSize = 8
	// KDFMinSubkeySize is the shortest subkey the KDF will produce.
	KDFMinSubkeySize = 16
	// KDFMaxSubkeySize is the longest subkey the KDF will produce.
	KDFMaxSubkeySize = 64
)

// Subkey slots. These are part of the wire contract: changing any of them
// makes every previously issued secret link unusable.
const (
	WrappingKeyIndex   uint64 = 1
	WrappingKeyContext        = "nwh-wrap"

	SigningKeyIndex   uint64 = 2
	SigningKeyContext        = "nwh-sign"
)

// PasswordHashParams holds Argon2id cost parameters.
type PasswordHashParams struct {
	// OpsLimit is the number of passes over memory.
	OpsLimit uint32
	// MemLimit is the amount of memory used, in bytes.
	MemLimit uint32
	// Threads is the degree of parallelism.
	Threads uint8
}

// InteractivePasswordHash matches libsodium's argon2id13 interactive limits.
var InteractivePasswordHash = PasswordHashParams{
	OpsLimit: 2,
	MemLimit: 64 << 20,
	Threads:  1,
}
