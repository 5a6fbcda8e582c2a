// Package nwh is a Go client SDK for notwithout.help, a service for
// anonymous intake forms whose server never sees plaintext.
//
// Everything a form holds is encrypted on the client. Submissions are
// sealed to the form's public primary key. The matching private key is
// stored on the server wrapped under a key derived from a secret link,
// and only a holder of that link can unwrap it. A secret link may be
// password protected, in which case its fragment carries the link key
// encrypted under a password-derived key.
//
// Submitting to a form needs only its share link:
//
//	client, err := nwh.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	share, _ := nwh.ParseShareLink("https://notwithout.help/share/#/" + formID)
//	err = client.Submit(ctx, share.FormID, nwh.SubmissionBody{
//	    Name:          "Sam",
//	    Contact:       "sam@example.org",
//	    ContactMethod: "email",
//	})
//
// Reading submissions needs a secret link:
//
//	session, err := client.OpenSecretLink(secretURL)
//	if err != nil {
//	    log.Fatal(err) // malformed links are terminal
//	}
//	defer session.Close()
//
//	if protected, _ := session.IsProtected(ctx); protected {
//	    if err := session.Unlock(ctx, password); err != nil {
//	        log.Fatal(err) // nwh.ErrInvalidPassword
//	    }
//	}
//
//	subs, err := session.Submissions(ctx)
//
// A Session acquires its values in a fixed order: secret link key, derived
// keys, access token, private primary key, submissions. Access tokens come
// from a challenge-response exchange signed with the link's derived
// signing key, are cached per link and refreshed before they expire. The
// exposed key of a protected link is evicted after a period without
// activity (see WithIdleTimeout and Session.Touch).
package nwh
