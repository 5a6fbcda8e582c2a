package nwh

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SubmissionVersion is the schema version written by this client.
const SubmissionVersion = 1

// ContactMethods lists the contact method codes a form may offer.
var ContactMethods = []string{
	"email", "sms", "signal", "matrix", "telegram", "discord", "mastodon",
	"bluesky", "threads", "twitter", "whatsapp", "instagram", "facebook", "other",
}

// SubmissionBody is the plaintext of one submission. It is sealed to the
// form's public primary key before it leaves the submitter's machine, so
// its shape can never be migrated: readers branch on Version.
type SubmissionBody struct {
	Version       int      `json:"version"`
	Name          string   `json:"name" validate:"required,max=256"`
	Contact       string   `json:"contact" validate:"required,max=512"`
	ContactMethod string   `json:"contact_method" validate:"required,contactmethod"`
	Roles         []string `json:"roles,omitempty" validate:"dive,required,max=128"`
	Comment       string   `json:"comment,omitempty" validate:"max=8192"`
}

// Submission is one decrypted submission.
type Submission struct {
	Body      SubmissionBody
	CreatedAt time.Time
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerContactMethod(v); err != nil {
		panic(fmt.Sprintf("nwh: register validators: %v", err))
	}
	return v
}

// registerContactMethod adds the "contactmethod" tag, which accepts the
// codes in ContactMethods.
func registerContactMethod(v *validator.Validate) error {
	return v.RegisterValidation("contactmethod", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		for _, m := range ContactMethods {
			if m == code {
				return true
			}
		}
		return false
	})
}

// Validate checks the body against the current schema.
func (b *SubmissionBody) Validate() error {
	return validateStruct(b)
}

// validateStruct runs the struct tags of v and collects every failure
// into a ValidationError.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err //coverage:ignore
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Errors: msgs}
}

// EncodeSubmissionBody validates b and returns its plaintext encoding. A
// zero Version is set to SubmissionVersion.
func EncodeSubmissionBody(b SubmissionBody) ([]byte, error) {
	if b.Version == 0 {
		b.Version = SubmissionVersion
	}
	if b.Version != SubmissionVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b.Version)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

// DecodeSubmissionBody parses a decrypted submission. Bodies of unknown
// versions are rejected rather than guessed at.
func DecodeSubmissionBody(data []byte) (SubmissionBody, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return SubmissionBody{}, fmt.Errorf("decode submission: %w", err)
	}
	if probe.Version == nil {
		return SubmissionBody{}, fmt.Errorf("%w: missing version", ErrUnsupportedVersion)
	}

	switch *probe.Version {
	case 1:
		var b SubmissionBody
		if err := json.Unmarshal(data, &b); err != nil {
			return SubmissionBody{}, fmt.Errorf("decode submission: %w", err)
		}
		return b, nil
	default:
		return SubmissionBody{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *probe.Version)
	}
}
