package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/link"
)

// ErrMalformedToken is returned when a challenge or access token cannot be
// decoded or lacks a required claim.
var ErrMalformedToken = errors.New("malformed token")

type challengeClaims struct {
	Nonce string `json:"nonce"`
}

type accessClaims struct {
	Role Role `json:"role"`
}

// ExtractNonce returns the nonce embedded in a challenge token. The
// token's signature is not checked; the server validates it when the
// signed response comes back.
func ExtractNonce(challenge string) (crypto.ChallengeNonce, error) {
	tok, err := jwt.ParseSigned(challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var claims challengeClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Nonce == "" {
		return nil, fmt.Errorf("%w: challenge has no nonce", ErrMalformedToken)
	}
	nonce, err := crypto.FromBase64(claims.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce is not base64: %v", ErrMalformedToken, err)
	}
	return crypto.ChallengeNonce(nonce), nil
}

// AccessToken is a bearer token together with the claims read from its
// unverified payload. The claims drive local expiry scheduling and display.
type AccessToken struct {
	Raw       string
	Key       link.Key
	Role      Role
	ExpiresAt time.Time
}

// ParseAccessToken decodes the payload of an access token. The subject must
// be "formId/clientKeyId" and an expiry is required.
func ParseAccessToken(raw string) (*AccessToken, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var (
		std    jwt.Claims
		custom accessClaims
	)
	if err := tok.UnsafeClaimsWithoutVerification(&std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: access token has no exp claim", ErrMalformedToken)
	}

	formID, keyID, ok := strings.Cut(std.Subject, "/")
	if !ok || formID == "" || keyID == "" || strings.Contains(keyID, "/") {
		return nil, fmt.Errorf("%w: unexpected sub claim %q", ErrMalformedToken, std.Subject)
	}

	return &AccessToken{
		Raw:       raw,
		Key:       link.Key{FormID: link.FormID(formID), ClientKeyID: link.ClientKeyID(keyID)},
		Role:      custom.Role,
		ExpiresAt: std.Expiry.Time(),
	}, nil
}

// Usable reports whether the token may still be presented at now, leaving
// skew before the embedded expiry.
func (t *AccessToken) Usable(now time.Time, skew time.Duration) bool {
	return t != nil && now.Add(skew).Before(t.ExpiresAt)
}

// String hides the bearer credential.
func (t *AccessToken) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("access token for %s (%s, expires %s)", t.Key, t.Role, t.ExpiresAt.Format(time.RFC3339))
}
