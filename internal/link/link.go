// Package link parses and formats the URL fragments that carry form
// identifiers and secret link keys.
//
// A secret link fragment is "#/{formId}/{clientKeyId}/{key}" where key is
// the base64url-encoded secret link key, or its password-protected form.
// A share link fragment is "#/{formId}". Fragments are never sent to the
// server.
package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notwithouthelp/client-go/internal/crypto"
)

// ErrMalformedLink is returned when a fragment cannot be parsed.
var ErrMalformedLink = errors.New("malformed link")

const (
	sharePath = "/share"
	viewPath  = "/view"
)

// FormID identifies a form.
type FormID string

// ClientKeyID identifies one key record of a form.
type ClientKeyID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ClientKeyID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ClientKeyID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("client key id: %w", err)
	}
	*id = ClientKeyID(s)
	return nil
}

// MarshalJSON emits numeric ids as JSON numbers.
func (id ClientKeyID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Key identifies one (form, client key) pair. It is the key of every
// session-scoped cache.
type Key struct {
	FormID      FormID
	ClientKeyID ClientKeyID
}

func (k Key) String() string {
	return string(k.FormID) + "/" + string(k.ClientKeyID)
}

// SecretLink is a parsed secret link. KeyBytes is either a raw secret link
// key or a protected one; which one is known only after asking the server
// for password parameters.
type SecretLink struct {
	FormID      FormID
	ClientKeyID ClientKeyID
	KeyBytes    []byte
}

// Key returns the cache key of the link.
func (l SecretLink) Key() Key {
	return Key{FormID: l.FormID, ClientKeyID: l.ClientKeyID}
}

// Fragment returns "#/{formId}/{clientKeyId}/{key}".
func (l SecretLink) Fragment() string {
	return "#/" + string(l.FormID) + "/" + string(l.ClientKeyID) + "/" + crypto.ToBase64URL(l.KeyBytes)
}

// URL returns the full link to the view page under origin.
func (l SecretLink) URL(origin string) string {
	return strings.TrimRight(origin, "/") + viewPath + l.Fragment()
}

// String redacts the key segment.
func (l SecretLink) String() string {
	return "#/" + string(l.FormID) + "/" + string(l.ClientKeyID) + "/[REDACTED]"
}

// ShareLink is the public link submitters use.
type ShareLink struct {
	FormID FormID
}

// Fragment returns "#/{formId}".
func (l ShareLink) Fragment() string {
	return "#/" + string(l.FormID)
}

// URL returns the full link to the share page under origin.
func (l ShareLink) URL(origin string) string {
	return strings.TrimRight(origin, "/") + sharePath + l.Fragment()
}

// ParseSecretLink parses a secret link fragment or a full URL containing one.
func ParseSecretLink(s string) (SecretLink, error) {
	segments, err := fragmentSegments(s)
	if err != nil {
		return SecretLink{}, err
	}
	if len(segments) != 3 {
		return SecretLink{}, fmt.Errorf("%w: want 3 segments, got %d", ErrMalformedLink, len(segments))
	}

	key, err := crypto.FromBase64URL(segments[2])
	if err != nil {
		return SecretLink{}, fmt.Errorf("%w: key segment: %v", ErrMalformedLink, err)
	}
	if len(key) != crypto.SecretLinkKeySize && len(key) != crypto.ProtectedSecretLinkKeySize {
		return SecretLink{}, fmt.Errorf("%w: key segment is %d bytes", ErrMalformedLink, len(key))
	}

	return SecretLink{
		FormID:      FormID(segments[0]),
		ClientKeyID: ClientKeyID(segments[1]),
		KeyBytes:    key,
	}, nil
}

// ParseShareLink parses a share link fragment or a full URL containing one.
func ParseShareLink(s string) (ShareLink, error) {
	segments, err := fragmentSegments(s)
	if err != nil {
		return ShareLink{}, err
	}
	if len(segments) != 1 {
		return ShareLink{}, fmt.Errorf("%w: want 1 segment, got %d", ErrMalformedLink, len(segments))
	}
	return ShareLink{FormID: FormID(segments[0])}, nil
}

// fragmentSegments returns the non-empty "/"-separated segments after "#/".
func fragmentSegments(s string) ([]string, error) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[i+1:]
	}

	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: fragment must start with \"/\"", ErrMalformedLink)
	}

	segments := strings.Split(strings.TrimPrefix(s, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrMalformedLink)
		}
	}
	return segments, nil
}
