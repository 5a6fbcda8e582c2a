package crypto

import "fmt"

// PasswordSalt is the Argon2id salt of a protected secret link.
type PasswordSalt [PasswordSaltSize]byte

// PasswordNonce is the nonce the secret link key was encrypted under.
type PasswordNonce [PasswordNonceSize]byte

// PasswordParams are stored server-side for a protected link. Their presence
// is what marks a link as protected.
type PasswordParams struct {
	Salt  PasswordSalt
	Nonce PasswordNonce
}

// ProtectedSecretLinkKey is tag || ciphertext of a secret link key under a
// password-derived key. It travels in the URL fragment in place of the raw key.
type ProtectedSecretLinkKey []byte

// PasswordParamsFromBytes builds PasswordParams from decoded salt and nonce.
func PasswordParamsFromBytes(salt, nonce []byte) (PasswordParams, error) {
	var p PasswordParams
	if err := copyExact(p.Salt[:], salt); err != nil {
		return PasswordParams{}, fmt.Errorf("password salt: %w", err)
	}
	if err := copyExact(p.Nonce[:], nonce); err != nil {
		return PasswordParams{}, fmt.Errorf("password nonce: %w", err)
	}
	return p, nil
}

// Protect encrypts k under a key stretched from password, with a fresh salt
// and nonce. Both are needed again to expose the key.
func Protect(k SecretLinkKey, password string) (PasswordParams, ProtectedSecretLinkKey, error) {
	var params PasswordParams
	if err := randomBytes(params.Salt[:]); err != nil {
		return PasswordParams{}, nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := randomBytes(params.Nonce[:]); err != nil {
		return PasswordParams{}, nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := HashPassword(EncodeUTF8(password), params.Salt, InteractivePasswordHash)
	defer wipe(key[:])

	nonce := [SecretboxNonceSize]byte(params.Nonce)
	sealed := sealDetached(k[:], &nonce, (*[SecretboxKeySize]byte)(&key))
	return params, ProtectedSecretLinkKey(sealed), nil
}

// Expose recovers the secret link key protected with password. A wrong
// password and a corrupted key are indistinguishable: both return
// ErrDecryptionFailed.
func Expose(params PasswordParams, protected ProtectedSecretLinkKey, password string) (SecretLinkKey, error) {
	key := HashPassword(EncodeUTF8(password), params.Salt, InteractivePasswordHash)
	defer wipe(key[:])

	nonce := [SecretboxNonceSize]byte(params.Nonce)
	plain, err := openDetached(protected, &nonce, (*[SecretboxKeySize]byte)(&key))
	if err != nil {
		return SecretLinkKey{}, err
	}
	defer wipe(plain)

	if len(plain) != SecretLinkKeySize {
		return SecretLinkKey{}, ErrDecryptionFailed
	}
	var k SecretLinkKey
	copy(k[:], plain)
	return k, nil
}
