package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// randReader is the random source for keys, nonces and salts.
var randReader io.Reader = rand.Reader

func randomBytes(b []byte) error {
	if _, err := io.ReadFull(randReader, b); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	return nil
}
