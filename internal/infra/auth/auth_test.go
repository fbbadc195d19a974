package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims *domain.OperatorClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func operator(username string, ttl time.Duration) *domain.OperatorClaims {
	return &domain.OperatorClaims{
		UserID:   "u-1",
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestVerifyToken(t *testing.T) {
	key := newKey(t)
	v := NewRSAValidator(&key.PublicKey)

	claims, err := v.VerifyToken("Bearer " + sign(t, key, operator("alice", time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Identity())

	_, err = v.VerifyToken("Bearer " + sign(t, key, operator("alice", -time.Hour)))
	assert.Error(t, err, "expired token must be rejected")

	other := newKey(t)
	_, err = v.VerifyToken(sign(t, other, operator("mallory", time.Hour)))
	assert.Error(t, err, "foreign signature must be rejected")

	_, err = v.VerifyToken("Bearer ")
	assert.Error(t, err)
}

func TestVerifyTokenRejectsHMAC(t *testing.T) {
	key := newKey(t)
	v := NewRSAValidator(&key.PublicKey)

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, operator("alice", time.Hour)).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(s)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewRSAValidator(&key.PublicKey), zap.NewNop())

	var seen string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, ok := OperatorFromContext(r.Context())
		require.True(t, ok)
		seen = op.Identity()
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"operator session is required"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, operator("bob", time.Hour)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bob", seen)
}

func TestOperatorFromContextEmpty(t *testing.T) {
	_, ok := OperatorFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)

	ctx := WithOperator(httptest.NewRequest(http.MethodGet, "/", nil).Context(), &domain.OperatorClaims{})
	_, ok = OperatorFromContext(ctx)
	assert.False(t, ok)
}
