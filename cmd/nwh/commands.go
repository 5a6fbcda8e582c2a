package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	nwh "github.com/notwithouthelp/client-go"
	"github.com/notwithouthelp/client-go/internal/crypto"
	"github.com/notwithouthelp/client-go/internal/token"
)

type publishOutput struct {
	SecretLink string `json:"secret_link"`
	ShareLink  string `json:"share_link"`
	Protected  bool   `json:"protected"`
}

type submissionOutput struct {
	CreatedAt     string   `json:"created_at"`
	Version       int      `json:"version"`
	Name          string   `json:"name"`
	Contact       string   `json:"contact"`
	ContactMethod string   `json:"contact_method"`
	Roles         []string `json:"roles,omitempty"`
	Comment       string   `json:"comment,omitempty"`
}

type keyOutput struct {
	ClientKeyID string  `json:"client_key_id"`
	Role        string  `json:"role"`
	Comment     string  `json:"comment"`
	AccessedAt  *string `json:"accessed_at"`
	Current     bool    `json:"current,omitempty"`
}

type issuedKeyOutput struct {
	ClientKeyID string `json:"client_key_id"`
	Role        string `json:"role"`
	SecretLink  string `json:"secret_link"`
	Protected   bool   `json:"protected"`
}

type deriveOutput struct {
	FormID           string `json:"form_id"`
	ClientKeyID      string `json:"client_key_id"`
	PublicSigningKey string `json:"public_signing_key"`
	Protected        bool   `json:"protected"`
}

type challengeResponse struct {
	Signature string `json:"signature"`
	Challenge string `json:"challenge"`
}

func toSubmissionOutput(s nwh.Submission) submissionOutput {
	return submissionOutput{
		CreatedAt:     s.CreatedAt.UTC().Format(time.RFC3339),
		Version:       s.Body.Version,
		Name:          s.Body.Name,
		Contact:       s.Body.Contact,
		ContactMethod: s.Body.ContactMethod,
		Roles:         s.Body.Roles,
		Comment:       s.Body.Comment,
	}
}

func (a *app) publishCmd() *cobra.Command {
	var (
		tmpl         nwh.FormTemplate
		comment      string
		linkPassword string
		expiresIn    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a new form and print its links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if expiresIn > 0 {
				at := time.Now().Add(expiresIn)
				tmpl.ExpiresAt = &at
			}
			var opts []nwh.KeyOption
			if comment != "" {
				opts = append(opts, nwh.WithComment(comment))
			}
			if linkPassword != "" {
				opts = append(opts, nwh.WithPassword(linkPassword))
			}

			pub, err := client.PublishForm(cmd.Context(), tmpl, opts...)
			if err != nil {
				return err
			}
			return a.printJSON(cmd, publishOutput{
				SecretLink: client.SecretURL(pub.SecretLink),
				ShareLink:  client.ShareURL(pub.ShareLink),
				Protected:  pub.Protected,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&tmpl.OrgName, "org", "", "organization name shown on the form")
	f.StringVar(&tmpl.Description, "description", "", "form description")
	f.StringSliceVar(&tmpl.ContactMethods, "contact-method", []string{"email"}, "contact methods submitters may choose ("+strings.Join(nwh.ContactMethods, ", ")+")")
	f.StringVar(&comment, "comment", "", "comment for the organizer link")
	f.StringVar(&linkPassword, "link-password", "", "protect the organizer link with this password")
	f.DurationVar(&expiresIn, "expires-in", 0, "close the form after this long")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var body nwh.SubmissionBody
	cmd := &cobra.Command{
		Use:   "submit SHARE_LINK",
		Short: "Submit an encrypted response to a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			share, err := nwh.ParseShareLink(args[0])
			if err != nil {
				return err
			}
			if err := body.Validate(); err != nil {
				return err
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Submit(cmd.Context(), share.FormID, body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "submitted")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&body.Name, "name", "", "your name")
	f.StringVar(&body.Contact, "contact", "", "how to reach you")
	f.StringVar(&body.ContactMethod, "contact-method", "email", "contact method code")
	f.StringSliceVar(&body.Roles, "role", nil, "role you can take on (repeatable)")
	f.StringVar(&body.Comment, "comment", "", "anything else")
	return cmd
}

func (a *app) submissionsCmd() *cobra.Command {
	var watch, skipExisting bool
	cmd := &cobra.Command{
		Use:   "submissions SECRET_LINK",
		Short: "Decrypt and print the submissions of a form",
		Long:  "Decrypt and print the submissions of a form, one JSON object per line. With --watch, keep polling and print new submissions as they arrive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := a.openSession(ctx, client, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			out := jsonLines(cmd.OutOrStdout())
			if !watch {
				subs, err := s.Submissions(ctx)
				if err != nil {
					return err
				}
				for _, sub := range subs {
					if err := out(toSubmissionOutput(sub)); err != nil {
						return err
					}
				}
				return nil
			}

			var opts []nwh.WatchOption
			if skipExisting {
				opts = append(opts, nwh.WithSkipExisting())
			}
			ch, err := s.WatchSubmissions(ctx, opts...)
			if err != nil {
				return err
			}
			for sub := range ch {
				if err := out(toSubmissionOutput(*sub)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling for new submissions until interrupted")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "with --watch, print only submissions that arrive later")
	return cmd
}

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the secret links of a form",
	}

	list := &cobra.Command{
		Use:   "list SECRET_LINK",
		Short: "List the secret links of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, _ *nwh.Client, s *nwh.Session) error {
				keys, err := s.ListKeys(ctx)
				if err != nil {
					return err
				}
				out := make([]keyOutput, 0, len(keys))
				for _, k := range keys {
					ko := keyOutput{
						ClientKeyID: string(k.ClientKeyID),
						Role:        k.Role.String(),
						Comment:     k.Comment,
						Current:     k.Current,
					}
					if k.AccessedAt != nil {
						at := k.AccessedAt.UTC().Format(time.RFC3339)
						ko.AccessedAt = &at
					}
					out = append(out, ko)
				}
				return a.printJSON(cmd, out)
			})
		},
	}

	var (
		role         string
		comment      string
		linkPassword string
	)
	add := &cobra.Command{
		Use:   "add SECRET_LINK",
		Short: "Issue a new secret link for the form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, client *nwh.Client, s *nwh.Session) error {
				opts := []nwh.KeyOption{nwh.WithRole(nwh.Role(role)), nwh.WithComment(comment)}
				if linkPassword != "" {
					opts = append(opts, nwh.WithPassword(linkPassword))
				}
				issued, err := s.AddKey(ctx, opts...)
				if err != nil {
					return err
				}
				return a.printJSON(cmd, issuedKeyOutput{
					ClientKeyID: string(issued.ClientKeyID),
					Role:        issued.Role.String(),
					SecretLink:  client.SecretURL(issued.Link),
					Protected:   issued.Protected,
				})
			})
		},
	}
	add.Flags().StringVar(&role, "role", string(nwh.RoleRead), "role of the new link: read or admin")
	add.Flags().StringVar(&comment, "comment", "", "comment shown in the key list")
	add.Flags().StringVar(&linkPassword, "link-password", "", "protect the new link with this password")

	del := &cobra.Command{
		Use:   "delete SECRET_LINK CLIENT_KEY_ID",
		Short: "Revoke a secret link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, _ *nwh.Client, s *nwh.Session) error {
				if err := s.DeleteKey(ctx, nwh.ClientKeyID(args[1])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, del)
	return cmd
}

func (a *app) protectCmd() *cobra.Command {
	var newPassword string
	cmd := &cobra.Command{
		Use:   "protect SECRET_LINK",
		Short: "Set a password on a secret link and print the protected link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newPassword == "" {
				return fmt.Errorf("--new-password: %w", nwh.ErrPasswordRequired)
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, client *nwh.Client, s *nwh.Session) error {
				sl, err := s.Protect(ctx, newPassword)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), client.SecretURL(sl))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&newPassword, "new-password", "", "password to protect the link with")
	return cmd
}

func (a *app) deriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive SECRET_LINK",
		Short: "Print the identifiers and public signing key of a secret link",
		Long:  "Print the identifiers and public signing key of a secret link. An unprotected link is handled offline; a protected one needs the server's password parameters and --password.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sl, keys, err := a.derivedKeys(cmd, args[0])
			if err != nil {
				return err
			}
			defer keys.Wipe()
			return a.printJSON(cmd, deriveOutput{
				FormID:           string(sl.FormID),
				ClientKeyID:      string(sl.ClientKeyID),
				PublicSigningKey: keys.PublicSigningKey.String(),
				Protected:        len(sl.KeyBytes) != crypto.SecretLinkKeySize,
			})
		},
	}
}

func (a *app) respondChallengeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "respond-challenge SECRET_LINK CHALLENGE",
		Short: "Sign a challenge token with a secret link's signing key",
		Long:  "Sign a challenge token with a secret link's signing key and print the body to post to /tokens. Pass - as CHALLENGE to read it from stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge := args[1]
			if challenge == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read challenge: %w", err)
				}
				challenge = strings.TrimSpace(string(data))
			}
			nonce, err := token.ExtractNonce(challenge)
			if err != nil {
				return err
			}

			_, keys, err := a.derivedKeys(cmd, args[0])
			if err != nil {
				return err
			}
			defer keys.Wipe()

			sig := crypto.SignChallengeNonce(nonce, keys.PrivateSigningKey)
			return a.printJSON(cmd, challengeResponse{
				Signature: crypto.ToBase64(sig[:]),
				Challenge: challenge,
			})
		},
	}
}

// derivedKeys returns the derived keys of a secret link. A raw key is
// derived offline; a protected one is exposed through a session.
func (a *app) derivedKeys(cmd *cobra.Command, secretLink string) (nwh.SecretLink, nwh.DerivedKeys, error) {
	sl, err := nwh.ParseSecretLink(secretLink)
	if err != nil {
		return nwh.SecretLink{}, nwh.DerivedKeys{}, err
	}

	if len(sl.KeyBytes) == crypto.SecretLinkKeySize {
		secret, err := crypto.SecretLinkKeyFromBytes(sl.KeyBytes)
		if err != nil {
			return nwh.SecretLink{}, nwh.DerivedKeys{}, err
		}
		defer secret.Wipe()
		return sl, crypto.DeriveKeys(secret), nil
	}

	var keys nwh.DerivedKeys
	err = a.withSession(cmd, secretLink, func(ctx context.Context, _ *nwh.Client, s *nwh.Session) error {
		keys, err = s.DerivedKeys(ctx)
		return err
	})
	return sl, keys, err
}

// withSession runs f with an unlocked session of secretLink.
func (a *app) withSession(cmd *cobra.Command, secretLink string, f func(context.Context, *nwh.Client, *nwh.Session) error) error {
	ctx := cmd.Context()
	client, err := a.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	s, err := a.openSession(ctx, client, secretLink)
	if err != nil {
		return err
	}
	defer s.Close()
	return f(ctx, client, s)
}

// jsonLines returns a function writing one compact JSON value per line.
func jsonLines(w io.Writer) func(v interface{}) error {
	return json.NewEncoder(w).Encode
}
