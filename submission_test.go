package nwh

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSubmissionBody(t *testing.T) {
	data, err := EncodeSubmissionBody(testBody)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 1,
		"name": "Sam",
		"contact": "sam@example.org",
		"contact_method": "email",
		"roles": ["door knocking"],
		"comment": "Third floor, no heat since October."
	}`, string(data))

	decoded, err := DecodeSubmissionBody(data)
	require.NoError(t, err)
	want := testBody
	want.Version = SubmissionVersion
	assert.Equal(t, want, decoded)
}

func TestEncodeSubmissionBody_OmitsEmpty(t *testing.T) {
	data, err := EncodeSubmissionBody(SubmissionBody{Name: "A", Contact: "a", ContactMethod: "other"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "roles")
	assert.NotContains(t, string(data), "comment")
}

func TestEncodeSubmissionBody_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  SubmissionBody
		field string
	}{
		{"missing name", SubmissionBody{Contact: "a", ContactMethod: "email"}, "Name"},
		{"missing contact", SubmissionBody{Name: "a", ContactMethod: "email"}, "Contact"},
		{"unknown method", SubmissionBody{Name: "a", Contact: "a", ContactMethod: "fax"}, "ContactMethod"},
		{"empty role", SubmissionBody{Name: "a", Contact: "a", ContactMethod: "sms", Roles: []string{""}}, "Roles[0]"},
		{"long name", SubmissionBody{Name: strings.Repeat("n", 257), Contact: "a", ContactMethod: "sms"}, "Name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeSubmissionBody(tt.body)
			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			require.Len(t, valErr.Errors, 1)
			assert.Contains(t, valErr.Errors[0], tt.field)
		})
	}
}

func TestEncodeSubmissionBody_Version(t *testing.T) {
	body := testBody
	body.Version = 2
	_, err := EncodeSubmissionBody(body)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeSubmissionBody(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"current", `{"version":1,"name":"A","contact":"a","contact_method":"email"}`, nil},
		{"unknown fields ignored", `{"version":1,"name":"A","contact":"a","contact_method":"email","pronouns":"they"}`, nil},
		{"missing version", `{"name":"A","contact":"a","contact_method":"email"}`, ErrUnsupportedVersion},
		{"future version", `{"version":2,"name":"A"}`, ErrUnsupportedVersion},
		{"not json", `name=A`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := DecodeSubmissionBody([]byte(tt.in))
			switch {
			case tt.name == "not json":
				require.Error(t, err)
				assert.False(t, errors.Is(err, ErrUnsupportedVersion))
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, KindUnsupported, KindOf(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, 1, body.Version)
				assert.Equal(t, "A", body.Name)
			}
		})
	}
}

func TestContactMethods(t *testing.T) {
	assert.Contains(t, ContactMethods, "email")
	assert.Contains(t, ContactMethods, "signal")
	assert.Contains(t, ContactMethods, "other")

	seen := make(map[string]bool)
	for _, m := range ContactMethods {
		assert.False(t, seen[m], "duplicate %q", m)
		seen[m] = true
	}
}

func TestRegisterContactMethod(t *testing.T) {
	v := validator.New()
	require.NoError(t, registerContactMethod(v))

	type target struct {
		Method string `validate:"contactmethod"`
	}
	assert.NoError(t, v.Struct(target{Method: "signal"}))
	assert.Error(t, v.Struct(target{Method: "fax"}))

	assert.NotPanics(t, func() { newValidator() })
}
