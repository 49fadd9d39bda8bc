// ABOUTME: Tests for account registration, login, and the HTTP auth middleware
// ABOUTME: Uses MockStore and httptest to exercise handlers end to end

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

func newTestAccounts(t *testing.T) (*AccountService, *store.MockStore, *JWTVerifier) {
	t.Helper()
	st := store.NewMockStore()
	verifier := NewJWTVerifier(testSecret)
	svc := NewAccountService(st, verifier, time.Hour, bcrypt.MinCost, slog.Default())
	return svc, st, verifier
}

func TestRegister_IssuesVerifiableToken(t *testing.T) {
	svc, st, verifier := newTestAccounts(t)
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterRequest{Email: "alice@example.com", Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.User.Username)
	assert.NotEmpty(t, result.User.ID)

	claims, err := verifier.Verify(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	stored, err := st.FindUserByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", stored.PasswordHash)
	assert.True(t, CheckPassword(stored.PasswordHash, "s3cret!"))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestAccounts(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "alice@example.com", Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Email: "alice@example.com", Username: "alice2", Password: "other!!"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	svc, _, verifier := newTestAccounts(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterRequest{Email: "bob@example.com", Username: "bob", Password: "hunter22"})
	require.NoError(t, err)

	result, err := svc.Login(ctx, LoginRequest{Email: "BOB@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, result.User.ID)
	_, err = verifier.Verify(result.AccessToken)
	assert.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccountHandlers(t *testing.T) {
	svc, _, _ := newTestAccounts(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/auth/register", `{"email":"alice@example.com","username":"alice","password":"s3cret!"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var result AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, "alice@example.com", result.User.Email)

	rec = post("/auth/register", `{"email":"alice@example.com","username":"alice","password":"s3cret!"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post("/auth/register", `{"email":"not-an-email","username":"x","password":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email")

	rec = post("/auth/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("/auth/login", `{"email":"alice@example.com","password":"s3cret!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post("/auth/login", `{"email":"alice@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid credentials")
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("1", "alice", time.Hour)
	require.NoError(t, err)

	var seen *Claims
	handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "1", seen.UserID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/chat?token=query-token", nil)
	token, err := CredentialFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "query-token", token)

	req.Header.Set("Authorization", "Bearer header-token")
	token, err = CredentialFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "header-token", token)

	_, err = CredentialFromRequest(httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCheckPassword_EmptyHashFails(t *testing.T) {
	assert.False(t, CheckPassword("", "anything"))
}
