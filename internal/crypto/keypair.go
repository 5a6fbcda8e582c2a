package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// PrivatePrimaryKey is the X25519 private key that opens submissions.
type PrivatePrimaryKey [BoxPrivateKeySize]byte

// PublicPrimaryKey is the X25519 public key submissions are sealed to.
type PublicPrimaryKey [BoxPublicKeySize]byte

// PrimaryKeypair is the per-form sealing keypair.
type PrimaryKeypair struct {
	Private PrivatePrimaryKey
	Public  PublicPrimaryKey
}

// GeneratePrimaryKeypair creates a new primary keypair from fresh randomness.
func GeneratePrimaryKeypair() (PrimaryKeypair, error) {
	pub, priv, err := box.GenerateKey(randReader)
	if err != nil {
		return PrimaryKeypair{}, fmt.Errorf("generate primary keypair: %w", err)
	}
	return PrimaryKeypair{
		Private: PrivatePrimaryKey(*priv),
		Public:  PublicPrimaryKey(*pub),
	}, nil
}

// Public computes the public key matching k.
func (k PrivatePrimaryKey) Public() (PublicPrimaryKey, error) {
	pub, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return PublicPrimaryKey{}, fmt.Errorf("derive public primary key: %w", err)
	}
	var out PublicPrimaryKey
	copy(out[:], pub)
	return out, nil
}

// Keypair returns k together with its public key.
func (k PrivatePrimaryKey) Keypair() (PrimaryKeypair, error) {
	pub, err := k.Public()
	if err != nil {
		return PrimaryKeypair{}, err
	}
	return PrimaryKeypair{Private: k, Public: pub}, nil
}

// PrivatePrimaryKeyFromBytes copies b into a PrivatePrimaryKey.
func PrivatePrimaryKeyFromBytes(b []byte) (PrivatePrimaryKey, error) {
	var k PrivatePrimaryKey
	if err := copyExact(k[:], b); err != nil {
		return PrivatePrimaryKey{}, fmt.Errorf("private primary key: %w", err)
	}
	return k, nil
}

// PublicPrimaryKeyFromBytes copies b into a PublicPrimaryKey.
func PublicPrimaryKeyFromBytes(b []byte) (PublicPrimaryKey, error) {
	var k PublicPrimaryKey
	if err := copyExact(k[:], b); err != nil {
		return PublicPrimaryKey{}, fmt.Errorf("public primary key: %w", err)
	}
	return k, nil
}

// Wipe zeroes k.
func (k *PrivatePrimaryKey) Wipe() { wipe(k[:]) }

func (PrivatePrimaryKey) String() string   { return redacted }
func (PrivatePrimaryKey) GoString() string { return redacted }

// String returns the standard base64 encoding of k.
func (k PublicPrimaryKey) String() string { return ToBase64(k[:]) }
