package crypto

import "fmt"

// WrappedPrivatePrimaryKey is a private primary key encrypted under a
// secret wrapping key. It is stored server-side in the key record.
type WrappedPrivatePrimaryKey []byte

// EncryptedSubmissionBody is a submission sealed to the form's public primary key.
type EncryptedSubmissionBody []byte

// EncryptedKeyComment is a key record's comment sealed to the form's public
// primary key, readable by every holder of the private primary key.
type EncryptedKeyComment []byte

// ChallengeNonce is the random value the server embeds in a challenge token.
type ChallengeNonce []byte

// ChallengeSignature is an Ed25519 signature over a ChallengeNonce.
type ChallengeSignature [SignatureSize]byte

// WrapPrivatePrimaryKey encrypts priv under wrappingKey.
func WrapPrivatePrimaryKey(priv PrivatePrimaryKey, wrappingKey SecretWrappingKey) (WrappedPrivatePrimaryKey, error) {
	out, err := EncryptSecretbox(priv[:], (*[SecretboxKeySize]byte)(&wrappingKey))
	if err != nil {
		return nil, fmt.Errorf("wrap private primary key: %w", err)
	}
	return WrappedPrivatePrimaryKey(out), nil
}

// UnwrapPrivatePrimaryKey decrypts a wrapped private primary key.
func UnwrapPrivatePrimaryKey(wrapped WrappedPrivatePrimaryKey, wrappingKey SecretWrappingKey) (PrivatePrimaryKey, error) {
	plain, err := DecryptSecretbox(wrapped, (*[SecretboxKeySize]byte)(&wrappingKey))
	if err != nil {
		return PrivatePrimaryKey{}, err
	}
	defer wipe(plain)

	if len(plain) != BoxPrivateKeySize {
		return PrivatePrimaryKey{}, ErrDecryptionFailed
	}
	var priv PrivatePrimaryKey
	copy(priv[:], plain)
	return priv, nil
}

// SealSubmissionBody seals an encoded submission body to pub.
func SealSubmissionBody(body []byte, pub PublicPrimaryKey) (EncryptedSubmissionBody, error) {
	out, err := SealAnonymous(body, (*[BoxPublicKeySize]byte)(&pub))
	if err != nil {
		return nil, err
	}
	return EncryptedSubmissionBody(out), nil
}

// UnsealSubmissionBody opens a sealed submission body.
func UnsealSubmissionBody(body EncryptedSubmissionBody, pub PublicPrimaryKey, priv PrivatePrimaryKey) ([]byte, error) {
	return OpenAnonymous(body, (*[BoxPublicKeySize]byte)(&pub), (*[BoxPrivateKeySize]byte)(&priv))
}

// SealKeyComment seals a key record comment to pub.
func SealKeyComment(comment string, pub PublicPrimaryKey) (EncryptedKeyComment, error) {
	out, err := SealAnonymous(EncodeUTF8(comment), (*[BoxPublicKeySize]byte)(&pub))
	if err != nil {
		return nil, err
	}
	return EncryptedKeyComment(out), nil
}

// UnsealKeyComment opens a sealed key record comment.
func UnsealKeyComment(comment EncryptedKeyComment, pub PublicPrimaryKey, priv PrivatePrimaryKey) (string, error) {
	plain, err := OpenAnonymous(comment, (*[BoxPublicKeySize]byte)(&pub), (*[BoxPrivateKeySize]byte)(&priv))
	if err != nil {
		return "", err
	}
	return DecodeUTF8(plain), nil
}

// SignChallengeNonce answers a server challenge.
func SignChallengeNonce(nonce ChallengeNonce, key PrivateSigningKey) ChallengeSignature {
	return ChallengeSignature(Sign(nonce, (*[SigningSeedSize]byte)(&key)))
}

// VerifyChallengeSignature checks sig against nonce and pub.
func VerifyChallengeSignature(nonce ChallengeNonce, sig ChallengeSignature, pub PublicSigningKey) error {
	return Verify(nonce, (*[SignatureSize]byte)(&sig), (*[SigningPublicKeySize]byte)(&pub))
}
