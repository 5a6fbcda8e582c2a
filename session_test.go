package nwh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

func TestSession_Pipeline(t *testing.T) {
	c, fs, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	require.NoError(t, c.Submit(ctx, pub.ShareLink.FormID, testBody))

	s := openSession(t, c, pub.SecretLink)
	st := s.State()
	assert.Equal(t, StatusLoading, st.SecretLinkKey.Status)
	assert.Equal(t, StatusLoading, st.Submissions.Status)

	protected, err := s.IsProtected(ctx)
	require.NoError(t, err)
	assert.False(t, protected)

	subs, err := s.Submissions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	st = s.State()
	assert.Equal(t, StatusDone, st.Protected.Status)
	assert.Equal(t, StatusDone, st.SecretLinkKey.Status)
	assert.Equal(t, StatusDone, st.PublicSigningKey.Status)
	assert.Equal(t, StatusDone, st.AccessToken.Status)
	assert.Equal(t, StatusDone, st.PublicPrimaryKey.Status)
	assert.Equal(t, StatusDone, st.Submissions.Status)
	assert.Len(t, st.Submissions.Value, 1)

	form, err := c.GetForm(ctx, pub.ShareLink.FormID)
	require.NoError(t, err)
	assert.Equal(t, form.PublicPrimaryKey, st.PublicPrimaryKey.Value)

	tok := st.AccessToken.Value
	assert.Equal(t, pub.SecretLink.Key(), tok.Key)
	assert.Equal(t, RoleAdmin, tok.Role)

	role, err := s.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	comment, err := s.Comment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Original link", comment)

	// One challenge for publishing; the session reuses the cached token.
	challenges, tokens := fs.counts()
	assert.Equal(t, 1, challenges)
	assert.Equal(t, 1, tokens)
}

func TestSession_DerivedKeysAndPrivateKey(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	s := openSession(t, c, pub.SecretLink)

	keys, err := s.DerivedKeys(ctx)
	require.NoError(t, err)
	again, err := s.DerivedKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys.PublicSigningKey, again.PublicSigningKey)
	assert.Equal(t, keys.SecretWrappingKey, again.SecretWrappingKey)
	keys.Wipe()
	again.Wipe()

	priv, err := s.PrivatePrimaryKey(ctx)
	require.NoError(t, err)
	defer priv.Wipe()
	pub2, err := priv.Public()
	require.NoError(t, err)

	form, err := c.GetForm(ctx, pub.ShareLink.FormID)
	require.NoError(t, err)
	assert.Equal(t, form.PublicPrimaryKey, pub2)
}

func TestSession_ProtectedLink(t *testing.T) {
	c, fs, clk := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c, WithPassword(testPassword))
	require.True(t, pub.Protected)
	assert.Len(t, pub.SecretLink.KeyBytes, 48)
	require.NoError(t, c.Submit(ctx, pub.ShareLink.FormID, testBody))

	// Open from a second device that never saw the raw key.
	reader := newClientFor(t, fs, clk)
	s := openSession(t, reader, pub.SecretLink)

	protected, err := s.IsProtected(ctx)
	require.NoError(t, err)
	assert.True(t, protected)

	_, err = s.Submissions(ctx)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, err, ErrPasswordRequired)
	assert.Equal(t, KindPasswordRequired, KindOf(err))

	st := s.State()
	assert.Equal(t, StatusFailed, st.SecretLinkKey.Status)
	assert.Equal(t, StatusLoading, st.PublicSigningKey.Status, "later stages wait for the password")
	assert.Equal(t, StatusLoading, st.Submissions.Status)

	err = s.Unlock(ctx, "wrong password")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Equal(t, KindInvalidPassword, KindOf(err))

	assert.ErrorIs(t, s.CheckPassword(ctx, "wrong password"), ErrInvalidPassword)
	assert.NoError(t, s.CheckPassword(ctx, testPassword))
	_, cached := reader.exposer.Cached(s.Key())
	assert.False(t, cached, "CheckPassword does not cache the key")

	require.NoError(t, s.Unlock(ctx, testPassword))
	subs, err := s.Submissions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Sam", subs[0].Body.Name)
}

func TestSession_IdleTimeout(t *testing.T) {
	c, fs, clk := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c, WithPassword(testPassword))

	reader := newClientFor(t, fs, clk)
	s := openSession(t, reader, pub.SecretLink)
	require.NoError(t, s.Unlock(ctx, testPassword))

	clk.Advance(10 * time.Second)
	s.Touch()
	clk.Advance(10 * time.Second)
	_, err := s.Submissions(ctx)
	require.NoError(t, err, "Touch restarts the idle timeout")

	// Reading submissions is not activity.
	clk.Advance(6 * time.Second)
	_, err = s.Submissions(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	st := s.State()
	assert.Equal(t, StatusFailed, st.SecretLinkKey.Status)
	assert.ErrorIs(t, st.SecretLinkKey.Err, ErrIdleTimeout)
	assert.Equal(t, StatusLoading, st.PublicPrimaryKey.Status)

	require.NoError(t, s.Unlock(ctx, testPassword))
	_, err = s.Submissions(ctx)
	assert.NoError(t, err)
}

func TestSession_UnprotectedNeverTimesOut(t *testing.T) {
	c, _, clk := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	s := openSession(t, c, pub.SecretLink)

	_, err := s.Submissions(ctx)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	_, err = s.Submissions(ctx)
	assert.NoError(t, err)
}

func TestSession_TokenRefresh(t *testing.T) {
	c, fs, clk := newTestClient(t)
	fs.tokenTTL = time.Minute
	ctx := context.Background()
	pub := publish(t, c)
	s := openSession(t, c, pub.SecretLink)

	_, err := s.Submissions(ctx)
	require.NoError(t, err)
	challenges, _ := fs.counts()
	require.Equal(t, 1, challenges)

	clk.Advance(56 * time.Second)
	assert.Equal(t, StatusLoading, s.State().AccessToken.Status, "token dropped before it expires")

	_, err = s.Submissions(ctx)
	require.NoError(t, err)
	challenges, _ = fs.counts()
	assert.Equal(t, 2, challenges)
}

func TestSession_SharedTokenCache(t *testing.T) {
	c, fs, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)

	a := openSession(t, c, pub.SecretLink)
	b := openSession(t, c, pub.SecretLink)
	_, err := a.Submissions(ctx)
	require.NoError(t, err)
	_, err = b.Submissions(ctx)
	require.NoError(t, err)

	challenges, _ := fs.counts()
	assert.Equal(t, 1, challenges)
}

func TestSession_StrictSubmissions(t *testing.T) {
	c, fs, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Submit(ctx, pub.ShareLink.FormID, testBody))
	}
	fs.corruptSubmission(pub.ShareLink.FormID, 1)

	s := openSession(t, c, pub.SecretLink)
	subs, err := s.Submissions(ctx)
	assert.Nil(t, subs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindDecryption, KindOf(err))

	var decErr *DecryptionError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "submission", decErr.Stage)

	st := s.State()
	assert.Equal(t, StatusFailed, st.Submissions.Status)
	assert.Equal(t, StatusDone, st.PublicPrimaryKey.Status, "earlier stages are unaffected")
}

func TestSession_WrongKeyBytes(t *testing.T) {
	c, fs, clk := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)

	// Same form and key id, different secret: the server rejects the
	// signature, so the token stage fails.
	forged := pub.SecretLink
	forged.KeyBytes = make([]byte, 32)
	s := openSession(t, newClientFor(t, fs, clk), forged)

	_, err := s.Submissions(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StatusFailed, s.State().AccessToken.Status)
}

func TestSession_Changes(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	s, err := c.Open(pub.SecretLink)
	require.NoError(t, err)

	changes, cancel := s.Changes()
	defer cancel()

	_, err = s.Submissions(ctx)
	require.NoError(t, err)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change signal after Submissions")
	}

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSession_Lock(t *testing.T) {
	c, fs, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c)
	s := openSession(t, c, pub.SecretLink)

	_, err := s.Submissions(ctx)
	require.NoError(t, err)

	s.Lock()
	st := s.State()
	assert.Equal(t, StatusLoading, st.SecretLinkKey.Status)
	assert.Equal(t, StatusLoading, st.AccessToken.Status)
	assert.Equal(t, StatusLoading, st.Submissions.Status)

	// An unprotected link exposes itself again from the fragment.
	_, err = s.Submissions(ctx)
	require.NoError(t, err)
	challenges, _ := fs.counts()
	assert.Equal(t, 2, challenges, "Lock drops the token")
}

func TestSession_LockProtected(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	pub := publish(t, c, WithPassword(testPassword))
	s := openSession(t, c, pub.SecretLink)
	require.NoError(t, s.Unlock(ctx, testPassword))

	s.Lock()
	_, err := s.Submissions(ctx)
	assert.ErrorIs(t, err, ErrPasswordRequired)
	assert.NotErrorIs(t, err, ErrIdleTimeout)
}

func TestSession_Close(t *testing.T) {
	c, _, _ := newTestClient(t)
	pub := publish(t, c)
	s, err := c.Open(pub.SecretLink)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Submissions(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, errors.Is(s.Unlock(context.Background(), ""), ErrSessionClosed))
	assert.Empty(t, c.sessionsFor(pub.SecretLink.Key()))
}
