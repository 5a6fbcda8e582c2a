package nwh

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/notwithouthelp/client-go/internal/clock"
	"github.com/notwithouthelp/client-go/internal/crypto"
)

// fakeServer is an in-memory store/relay speaking the notwithout.help API.
// Like the real server it holds only public keys and ciphertext, signs its
// own tokens and verifies challenge signatures.
type fakeServer struct {
	t        *testing.T
	clock    clock.Clock
	tokenTTL time.Duration
	signKey  []byte
	srv      *httptest.Server

	mu         sync.Mutex
	forms      map[string]*fakeForm
	nextForm   int
	nonces     map[string]string // nonce -> "form/key"
	challenges int
	tokens     int
	keyFetches int
	lastAuth   string
}

type fakeForm struct {
	orgName        string
	description    string
	contactMethods []string
	publicPrimary  string
	expiresAt      *string
	keys           map[string]*fakeKey
	nextKey        int
	submissions    []fakeSubmission
}

type fakeKey struct {
	publicSigning string
	wrapped       *string
	comment       string
	role          string
	accessedAt    *time.Time
	salt          string
	nonce         string
}

type fakeSubmission struct {
	EncryptedBody string    `json:"encrypted_body"`
	CreatedAt     time.Time `json:"created_at"`
}

func newFakeServer(t *testing.T, c clock.Clock) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		clock:    c,
		tokenTTL: time.Hour,
		signKey:  []byte("fake server hmac key, 32 bytes!!"),
		forms:    make(map[string]*fakeForm),
		nonces:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /forms", fs.postForm)
	mux.HandleFunc("GET /forms/{form}", fs.getForm)
	mux.HandleFunc("PATCH /forms/{form}", fs.admin(fs.patchForm))
	mux.HandleFunc("DELETE /forms/{form}", fs.admin(fs.deleteForm))
	mux.HandleFunc("POST /submissions/{form}", fs.postSubmission)
	mux.HandleFunc("GET /submissions/{form}", fs.authed(fs.listSubmissions))
	mux.HandleFunc("POST /challenges/{form}/{key}", fs.postChallenge)
	mux.HandleFunc("POST /tokens", fs.postToken)
	mux.HandleFunc("GET /keys/{form}/{key}", fs.authed(fs.getKey))
	mux.HandleFunc("GET /keys/{form}", fs.admin(fs.listKeys))
	mux.HandleFunc("POST /keys/{form}", fs.admin(fs.postKey))
	mux.HandleFunc("PATCH /keys/{form}/{key}", fs.admin(fs.patchKey))
	mux.HandleFunc("DELETE /keys/{form}/{key}", fs.admin(fs.deleteKey))
	mux.HandleFunc("GET /passwords/{form}/{key}", fs.getPassword)
	mux.HandleFunc("PUT /passwords/{form}/{key}", fs.admin(fs.putPassword))

	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string { return fs.srv.URL }

func (fs *fakeServer) counts() (challenges, tokens int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.challenges, fs.tokens
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (fs *fakeServer) sign(claims ...interface{}) string {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: fs.signKey}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		fs.t.Fatalf("NewSigner() error = %v", err)
	}
	b := jwt.Signed(signer)
	for _, c := range claims {
		b = b.Claims(c)
	}
	raw, err := b.CompactSerialize()
	if err != nil {
		fs.t.Fatalf("CompactSerialize() error = %v", err)
	}
	return raw
}

// caller validates the bearer token and returns its subject and role.
func (fs *fakeServer) caller(r *http.Request) (sub, role string, ok bool) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return "", "", false
	}
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return "", "", false
	}
	var (
		std    jwt.Claims
		custom struct {
			Role string `json:"role"`
		}
	)
	if err := tok.Claims(fs.signKey, &std, &custom); err != nil {
		return "", "", false
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: fs.clock.Now()}, 0); err != nil {
		return "", "", false
	}
	fs.mu.Lock()
	fs.lastAuth = std.Subject
	fs.mu.Unlock()
	return std.Subject, custom.Role, true
}

func (fs *fakeServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, _, ok := fs.caller(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		formID, keyID, _ := strings.Cut(sub, "/")
		if formID != r.PathValue("form") {
			writeError(w, http.StatusForbidden, "wrong form")
			return
		}
		if key := r.PathValue("key"); key != "" && r.Method == http.MethodGet && key != keyID {
			writeError(w, http.StatusForbidden, "wrong key")
			return
		}
		next(w, r)
	}
}

func (fs *fakeServer) admin(next http.HandlerFunc) http.HandlerFunc {
	return fs.authed(func(w http.ResponseWriter, r *http.Request) {
		_, role, _ := fs.caller(r)
		if role != "admin" {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	})
}

func (fs *fakeServer) form(w http.ResponseWriter, r *http.Request) (*fakeForm, bool) {
	f, ok := fs.forms[r.PathValue("form")]
	if !ok {
		writeError(w, http.StatusNotFound, "no such form")
	}
	return f, ok
}

func (fs *fakeServer) key(w http.ResponseWriter, r *http.Request) (*fakeForm, *fakeKey, bool) {
	f, ok := fs.form(w, r)
	if !ok {
		return nil, nil, false
	}
	k, ok := f.keys[r.PathValue("key")]
	if !ok {
		writeError(w, http.StatusNotFound, "no such key")
	}
	return f, k, ok
}

func (fs *fakeServer) postForm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicPrimaryKey string   `json:"public_primary_key"`
		PublicSigningKey string   `json:"public_signing_key"`
		OrgName          string   `json:"org_name"`
		Description      string   `json:"description"`
		ContactMethods   []string `json:"contact_methods"`
		ExpiresAt        *string  `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextForm++
	formID := "form" + strconv.Itoa(fs.nextForm)
	fs.forms[formID] = &fakeForm{
		orgName:        req.OrgName,
		description:    req.Description,
		contactMethods: req.ContactMethods,
		publicPrimary:  req.PublicPrimaryKey,
		expiresAt:      req.ExpiresAt,
		keys:           map[string]*fakeKey{"1": {publicSigning: req.PublicSigningKey, role: "admin"}},
		nextKey:        1,
	}
	// The real server returns numeric client key ids.
	writeJSON(w, http.StatusOK, map[string]interface{}{"form_id": formID, "client_key_id": 1})
}

func (fs *fakeServer) getForm(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"org_name":           f.orgName,
		"description":        f.description,
		"contact_methods":    f.contactMethods,
		"public_primary_key": f.publicPrimary,
	})
}

func (fs *fakeServer) patchForm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgName        *string  `json:"org_name"`
		Description    *string  `json:"description"`
		ContactMethods []string `json:"contact_methods"`
		ExpiresAt      *string  `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	if req.OrgName != nil {
		f.orgName = *req.OrgName
	}
	if req.Description != nil {
		f.description = *req.Description
	}
	if req.ContactMethods != nil {
		f.contactMethods = req.ContactMethods
	}
	if req.ExpiresAt != nil {
		f.expiresAt = req.ExpiresAt
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) deleteForm(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.form(w, r); !ok {
		return
	}
	delete(fs.forms, r.PathValue("form"))
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) postSubmission(w http.ResponseWriter, r *http.Request) {
	var req fakeSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	f.submissions = append(f.submissions, fakeSubmission{EncryptedBody: req.EncryptedBody, CreatedAt: fs.clock.Now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) listSubmissions(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	out := append([]fakeSubmission{}, f.submissions...)
	writeJSON(w, http.StatusOK, out)
}

func (fs *fakeServer) postChallenge(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, _, ok := fs.key(w, r); !ok {
		return
	}
	fs.challenges++
	nonce := make([]byte, 32)
	copy(nonce, strconv.Itoa(fs.challenges)+"-"+r.PathValue("form")+"-"+r.PathValue("key"))
	encoded := crypto.ToBase64(nonce)
	fs.nonces[encoded] = r.PathValue("form") + "/" + r.PathValue("key")

	challenge := fs.sign(map[string]interface{}{
		"nonce": encoded,
		"exp":   fs.clock.Now().Add(time.Minute).Unix(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (fs *fakeServer) postToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signature string `json:"signature"`
		Challenge string `json:"challenge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := jwt.ParseSigned(req.Challenge)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad challenge")
		return
	}
	var claims struct {
		Nonce string `json:"nonce"`
	}
	if err := tok.Claims(fs.signKey, &claims); err != nil {
		writeError(w, http.StatusUnauthorized, "bad challenge")
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	sub, ok := fs.nonces[claims.Nonce]
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown or used nonce")
		return
	}
	delete(fs.nonces, claims.Nonce)

	formID, keyID, _ := strings.Cut(sub, "/")
	f, ok := fs.forms[formID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "form gone")
		return
	}
	k, ok := f.keys[keyID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "key revoked")
		return
	}

	if err := verifyChallenge(claims.Nonce, req.Signature, k.publicSigning); err != nil {
		writeError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	fs.tokens++
	now := fs.clock.Now()
	k.accessedAt = &now
	access := fs.sign(
		jwt.Claims{Subject: sub, Expiry: jwt.NewNumericDate(now.Add(fs.tokenTTL))},
		map[string]interface{}{"role": k.role},
	)
	writeJSON(w, http.StatusOK, map[string]string{"token": access})
}

func verifyChallenge(nonceB64, sigB64, pubB64 string) error {
	nonce, err := crypto.FromBase64(nonceB64)
	if err != nil {
		return err
	}
	rawSig, err := crypto.FromBase64(sigB64)
	if err != nil {
		return err
	}
	rawPub, err := crypto.FromBase64(pubB64)
	if err != nil {
		return err
	}
	pub, err := crypto.PublicSigningKeyFromBytes(rawPub)
	if err != nil {
		return err
	}
	var sig crypto.ChallengeSignature
	if len(rawSig) != len(sig) {
		return crypto.ErrSignatureVerificationFailed
	}
	copy(sig[:], rawSig)
	return crypto.VerifyChallengeSignature(nonce, sig, pub)
}

func (fs *fakeServer) getKey(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, k, ok := fs.key(w, r)
	if !ok {
		return
	}
	fs.keyFetches++
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wrapped_private_primary_key": k.wrapped,
		"encrypted_comment":           k.comment,
	})
}

func (fs *fakeServer) listKeys(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	out := make([]map[string]interface{}, 0, len(f.keys))
	for i := 1; i <= f.nextKey; i++ {
		k, ok := f.keys[strconv.Itoa(i)]
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"client_key_id":     i,
			"encrypted_comment": k.comment,
			"role":              k.role,
			"accessed_at":       k.accessedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (fs *fakeServer) postKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicSigningKey         string `json:"public_signing_key"`
		WrappedPrivatePrimaryKey string `json:"wrapped_private_primary_key"`
		EncryptedComment         string `json:"encrypted_comment"`
		Role                     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.form(w, r)
	if !ok {
		return
	}
	f.nextKey++
	wrapped := req.WrappedPrivatePrimaryKey
	f.keys[strconv.Itoa(f.nextKey)] = &fakeKey{
		publicSigning: req.PublicSigningKey,
		wrapped:       &wrapped,
		comment:       req.EncryptedComment,
		role:          req.Role,
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"client_key_id": f.nextKey})
}

func (fs *fakeServer) patchKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WrappedPrivatePrimaryKey *string `json:"wrapped_private_primary_key"`
		EncryptedComment         *string `json:"encrypted_comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, k, ok := fs.key(w, r)
	if !ok {
		return
	}
	if req.WrappedPrivatePrimaryKey != nil {
		k.wrapped = req.WrappedPrivatePrimaryKey
	}
	if req.EncryptedComment != nil {
		k.comment = *req.EncryptedComment
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) deleteKey(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, _, ok := fs.key(w, r)
	if !ok {
		return
	}
	delete(f.keys, r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) getPassword(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, k, ok := fs.key(w, r)
	if !ok {
		return
	}
	if k.salt == "" {
		writeError(w, http.StatusNotFound, "not protected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"salt": k.salt, "nonce": k.nonce})
}

func (fs *fakeServer) putPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Salt  string `json:"salt"`
		Nonce string `json:"nonce"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, k, ok := fs.key(w, r)
	if !ok {
		return
	}
	k.salt, k.nonce = req.Salt, req.Nonce
	w.WriteHeader(http.StatusNoContent)
}

// corruptSubmission replaces the ciphertext of submission i of formID.
func (fs *fakeServer) corruptSubmission(formID FormID, i int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := fs.forms[string(formID)]
	f.submissions[i].EncryptedBody = crypto.ToBase64(make([]byte, 80))
}

// keyRecord returns a copy of a key record for assertions.
func (fs *fakeServer) keyRecord(formID FormID, id ClientKeyID) (fakeKey, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.forms[string(formID)]
	if !ok {
		return fakeKey{}, false
	}
	k, ok := f.keys[string(id)]
	if !ok {
		return fakeKey{}, false
	}
	return *k, true
}
