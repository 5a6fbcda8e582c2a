package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestProtectExpose_RoundTrip(t *testing.T) {
	k, err := GenerateSecretLinkKey()
	if err != nil {
		t.Fatalf("GenerateSecretLinkKey() error = %v", err)
	}

	for _, pw := range []string{"correct-horse", "", "pässwörd 🔑"} {
		params, protected, err := Protect(k, pw)
		if err != nil {
			t.Fatalf("Protect() error = %v", err)
		}
		if len(protected) != ProtectedSecretLinkKeySize {
			t.Errorf("protected length = %d, want %d", len(protected), ProtectedSecretLinkKeySize)
		}

		got, err := Expose(params, protected, pw)
		if err != nil {
			t.Fatalf("Expose(%q) error = %v", pw, err)
		}
		if got != k {
			t.Errorf("Expose(%q) returned a different key", pw)
		}
	}
}

func TestExpose_Failures(t *testing.T) {
	k, _ := GenerateSecretLinkKey()
	params, protected, err := Protect(k, "correct-horse")
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}

	otherSalt := params
	otherSalt.Salt[0] ^= 0x01
	otherNonce := params
	otherNonce.Nonce[0] ^= 0x01
	corrupted := bytes.Clone(protected)
	corrupted[5] ^= 0x01

	tests := []struct {
		name      string
		params    PasswordParams
		protected ProtectedSecretLinkKey
		password  string
	}{
		{"wrong password", params, protected, "wrong"},
		{"wrong salt", otherSalt, protected, "correct-horse"},
		{"wrong nonce", otherNonce, protected, "correct-horse"},
		{"corrupted", params, corrupted, "correct-horse"},
		{"truncated", params, protected[:10], "correct-horse"},
		{"raw key in place of protected", params, ProtectedSecretLinkKey(k[:]), "correct-horse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expose(tt.params, tt.protected, tt.password)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Expose() error = %v, want ErrDecryptionFailed", err)
			}
			if got == k {
				t.Error("Expose() returned the secret on failure")
			}
		})
	}
}

func TestProtect_FreshSaltAndNonce(t *testing.T) {
	k, _ := GenerateSecretLinkKey()
	p1, c1, _ := Protect(k, "pw")
	p2, c2, _ := Protect(k, "pw")

	if p1.Salt == p2.Salt || p1.Nonce == p2.Nonce {
		t.Error("Protect() reused salt or nonce")
	}
	if bytes.Equal(c1, c2) {
		t.Error("Protect() produced identical ciphertexts")
	}
}

func TestHashPassword_Deterministic(t *testing.T) {
	salt := PasswordSalt{1, 2, 3}
	a := HashPassword([]byte("pw"), salt, InteractivePasswordHash)
	b := HashPassword([]byte("pw"), salt, InteractivePasswordHash)
	if a != b {
		t.Error("HashPassword() is not deterministic")
	}

	c := HashPassword([]byte("pw"), PasswordSalt{9}, InteractivePasswordHash)
	if a == c {
		t.Error("HashPassword() ignores the salt")
	}
}

func TestPasswordParamsFromBytes(t *testing.T) {
	if _, err := PasswordParamsFromBytes(make([]byte, PasswordSaltSize), make([]byte, PasswordNonceSize)); err != nil {
		t.Errorf("PasswordParamsFromBytes() error = %v", err)
	}
	if _, err := PasswordParamsFromBytes(make([]byte, 8), make([]byte, PasswordNonceSize)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("PasswordParamsFromBytes(short salt) error = %v, want ErrInvalidSize", err)
	}
	if _, err := PasswordParamsFromBytes(make([]byte, PasswordSaltSize), make([]byte, 12)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("PasswordParamsFromBytes(short nonce) error = %v, want ErrInvalidSize", err)
	}
}
