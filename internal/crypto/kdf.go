package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/blake2b"
)

// DeriveSubkey derives a subkey of length bytes from master, compatible
// with libsodium's crypto_kdf_derive_from_key. The subkey is keyed
// BLAKE2b over an empty message, with the little-endian index in the salt
// and the context in the personalization block.
func DeriveSubkey(length int, index uint64, context string, master *[SecretLinkKeySize]byte) ([]byte, error) {
	if length < KDFMinSubkeySize || length > KDFMaxSubkeySize {
		return nil, fmt.Errorf("subkey length %d: %w", length, ErrInvalidSize)
	}
	if len(context) != KDFContextSize {
		return nil, ErrInvalidContext
	}

	var salt [blake2b.SaltSize]byte
	binary.LittleEndian.PutUint64(salt[:8], index)

	var person [blake2b.PersonSize]byte
	copy(person[:], context)

	h, err := blake2b.New(&blake2b.Config{
		Size:   uint8(length),
		Key:    master[:],
		Salt:   salt[:],
		Person: person[:],
	})
	if err != nil {
		return nil, fmt.Errorf("init blake2b: %w", err)
	}
	return h.Sum(nil), nil
}
