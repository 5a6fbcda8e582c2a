package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealAnonymousRoundTrip(t *testing.T) {
	kp, err := GeneratePrimaryKeypair()
	if err != nil {
		t.Fatalf("GeneratePrimaryKeypair() error = %v", err)
	}
	pub := [BoxPublicKeySize]byte(kp.Public)
	priv := [BoxPrivateKeySize]byte(kp.Private)

	for _, msg := range [][]byte{{}, []byte("hello"), make([]byte, 4096)} {
		ct, err := SealAnonymous(msg, &pub)
		if err != nil {
			t.Fatalf("SealAnonymous() error = %v", err)
		}
		if len(ct) != len(msg)+SealOverhead {
			t.Errorf("sealed length = %d, want %d", len(ct), len(msg)+SealOverhead)
		}

		got, err := OpenAnonymous(ct, &pub, &priv)
		if err != nil {
			t.Fatalf("OpenAnonymous() error = %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Error("round trip mismatch")
		}
	}
}

func TestOpenAnonymous_WrongRecipient(t *testing.T) {
	alice, _ := GeneratePrimaryKeypair()
	mallory, _ := GeneratePrimaryKeypair()

	pub := [BoxPublicKeySize]byte(alice.Public)
	ct, err := SealAnonymous([]byte("for alice"), &pub)
	if err != nil {
		t.Fatalf("SealAnonymous() error = %v", err)
	}

	mPub := [BoxPublicKeySize]byte(mallory.Public)
	mPriv := [BoxPrivateKeySize]byte(mallory.Private)
	if _, err := OpenAnonymous(ct, &mPub, &mPriv); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("OpenAnonymous() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenAnonymous_Malformed(t *testing.T) {
	kp, _ := GeneratePrimaryKeypair()
	pub := [BoxPublicKeySize]byte(kp.Public)
	priv := [BoxPrivateKeySize]byte(kp.Private)

	for _, ct := range [][]byte{nil, make([]byte, SealOverhead-1), make([]byte, SealOverhead+4)} {
		if _, err := OpenAnonymous(ct, &pub, &priv); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("OpenAnonymous(len %d) error = %v, want ErrDecryptionFailed", len(ct), err)
		}
	}
}
