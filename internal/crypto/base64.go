package crypto

import (
	"encoding/base64"
	"strings"
)

// ToBase64URL encodes bytes to URL-safe base64 without padding.
func ToBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromBase64URL decodes URL-safe base64. Trailing padding is optional.
func FromBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ToBase64 encodes bytes to standard base64 with padding.
// Use this for every binary field that crosses the JSON boundary.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64. Trailing padding is optional.
func FromBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// EncodeUTF8 returns the UTF-8 bytes of s.
func EncodeUTF8(s string) []byte {
	return []byte(s)
}

// DecodeUTF8 decodes b as UTF-8, replacing invalid sequences with U+FFFD.
func DecodeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
