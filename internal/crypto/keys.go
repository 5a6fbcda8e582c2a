package crypto

import "fmt"

const redacted = "[REDACTED]"

// SecretLinkKey is the root secret of one (form, client key) pair. Every
// working key of that pair is derived from it.
type SecretLinkKey [SecretLinkKeySize]byte

// SecretWrappingKey encrypts the private primary key at rest.
type SecretWrappingKey [SecretboxKeySize]byte

// PrivateSigningKey is an Ed25519 seed used to answer API challenges.
type PrivateSigningKey [SigningSeedSize]byte

// PublicSigningKey is the Ed25519 public key registered with the server.
type PublicSigningKey [SigningPublicKeySize]byte

// SecretboxKey is a password-derived key. It never leaves this package's callers.
type SecretboxKey [SecretboxKeySize]byte

// DerivedKeys are the working keys of a secret link.
type DerivedKeys struct {
	SecretWrappingKey SecretWrappingKey
	PrivateSigningKey PrivateSigningKey
	PublicSigningKey  PublicSigningKey
}

// GenerateSecretLinkKey returns a fresh random secret link key.
func GenerateSecretLinkKey() (SecretLinkKey, error) {
	var k SecretLinkKey
	if err := randomBytes(k[:]); err != nil {
		return SecretLinkKey{}, err
	}
	return k, nil
}

// SecretLinkKeyFromBytes copies b into a SecretLinkKey.
func SecretLinkKeyFromBytes(b []byte) (SecretLinkKey, error) {
	var k SecretLinkKey
	if err := copyExact(k[:], b); err != nil {
		return SecretLinkKey{}, fmt.Errorf("secret link key: %w", err)
	}
	return k, nil
}

// DeriveKeys derives the wrapping key and signing keypair from k.
// The result depends on k alone.
func DeriveKeys(k SecretLinkKey) DerivedKeys {
	master := (*[SecretLinkKeySize]byte)(&k)

	// Both slots use in-range lengths and 8-byte contexts, so derivation
	// cannot fail.
	wrap, _ := DeriveSubkey(SecretboxKeySize, WrappingKeyIndex, WrappingKeyContext, master)
	seed, _ := DeriveSubkey(SigningSeedSize, SigningKeyIndex, SigningKeyContext, master)

	var keys DerivedKeys
	copy(keys.SecretWrappingKey[:], wrap)
	copy(keys.PrivateSigningKey[:], seed)
	keys.PublicSigningKey = PublicSigningKey(signingPublicKey((*[SigningSeedSize]byte)(&keys.PrivateSigningKey)))

	wipe(wrap)
	wipe(seed)
	return keys
}

// PublicSigningKeyFromBytes copies b into a PublicSigningKey.
func PublicSigningKeyFromBytes(b []byte) (PublicSigningKey, error) {
	var k PublicSigningKey
	if err := copyExact(k[:], b); err != nil {
		return PublicSigningKey{}, fmt.Errorf("public signing key: %w", err)
	}
	return k, nil
}

// Wipe zeroes k.
func (k *SecretLinkKey) Wipe() { wipe(k[:]) }

// Wipe zeroes k.
func (k *SecretWrappingKey) Wipe() { wipe(k[:]) }

// Wipe zeroes k.
func (k *PrivateSigningKey) Wipe() { wipe(k[:]) }

// Wipe zeroes the secret halves of d.
func (d *DerivedKeys) Wipe() {
	d.SecretWrappingKey.Wipe()
	d.PrivateSigningKey.Wipe()
}

func (SecretLinkKey) String() string       { return redacted }
func (SecretLinkKey) GoString() string     { return redacted }
func (SecretWrappingKey) String() string   { return redacted }
func (SecretWrappingKey) GoString() string { return redacted }
func (PrivateSigningKey) String() string   { return redacted }
func (PrivateSigningKey) GoString() string { return redacted }
func (SecretboxKey) String() string        { return redacted }
func (SecretboxKey) GoString() string      { return redacted }

// String returns the standard base64 encoding of k.
func (k PublicSigningKey) String() string { return ToBase64(k[:]) }

func copyExact(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("got %d bytes, want %d: %w", len(src), len(dst), ErrInvalidSize)
	}
	copy(dst, src)
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
