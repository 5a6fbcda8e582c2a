package token

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
)

var testServerKey = []byte("0123456789abcdef0123456789abcdef")

func mustSigner(t *testing.T) jose.Signer {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "srv-key-1")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: testServerKey}, opts)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return signer
}

func mintChallenge(t *testing.T, nonce []byte) string {
	t.Helper()
	raw, err := jwt.Signed(mustSigner(t)).
		Claims(map[string]interface{}{
			"nonce": crypto.ToBase64(nonce),
			"exp":   time.Now().Add(time.Minute).Unix(),
		}).
		CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize() error = %v", err)
	}
	return raw
}

func mintAccessToken(t *testing.T, k link.Key, role Role, exp time.Time) string {
	t.Helper()
	raw, err := jwt.Signed(mustSigner(t)).
		Claims(jwt.Claims{
			Subject:  k.String(),
			Issuer:   "https://api.notwithout.help",
			Audience: jwt.Audience{"https://api.notwithout.help"},
			Expiry:   jwt.NewNumericDate(exp),
		}).
		Claims(map[string]interface{}{"role": role}).
		CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize() error = %v", err)
	}
	return raw
}

func mintWithSubject(t *testing.T, sub string) string {
	t.Helper()
	raw, err := jwt.Signed(mustSigner(t)).
		Claims(jwt.Claims{Subject: sub, Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour))}).
		CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize() error = %v", err)
	}
	return raw
}
