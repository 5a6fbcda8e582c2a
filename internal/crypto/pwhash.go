package crypto

import "golang.org/x/crypto/argon2"

// HashPassword stretches password into a secretbox key with Argon2id.
// The output is a pure function of its inputs.
func HashPassword(password []byte, salt PasswordSalt, params PasswordHashParams) SecretboxKey {
	threads := params.Threads
	if threads == 0 {
		threads = 1
	}

	var key SecretboxKey
	copy(key[:], argon2.IDKey(password, salt[:], params.OpsLimit, params.MemLimit/1024, threads, SecretboxKeySize))
	return key
}
