package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-shipyard-tokens"

// =============================================================================
// Test Helpers
// =============================================================================

// testHandler echoes the authenticated subject.
func testHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"subject": SubjectFromContext(r.Context()),
		})
	})
}

func serve(t *testing.T, m *AuthMiddleware, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(testHandler()).ServeHTTP(rec, req)
	return rec
}

func subjectOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["subject"]
}

// =============================================================================
// Token Tests
// =============================================================================

func TestGenerateToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken("ci", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("ci", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "another-secret")
	assert.ErrorIs(t, err, jwtlib.ErrTokenSignatureInvalid)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("ci", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, jwtlib.ErrTokenExpired)
}

func TestParseToken_RejectsForeignIssuer(t *testing.T) {
	claims := jwtlib.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "ci",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, jwtlib.ErrTokenInvalidIssuer)
}

func TestParseToken_RequiresExpiry(t *testing.T) {
	claims := jwtlib.RegisteredClaims{Issuer: Issuer, Subject: "ci"}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Error(t, err)
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_NoSecret_PassesThrough(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{})
	assert.False(t, m.Enabled())

	rec := serve(t, m, httptest.NewRequest("GET", "/api/v1/deployments", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, subjectOf(t, rec))
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Secret: testSecret})

	rec := serve(t, m, httptest.NewRequest("GET", "/api/v1/deployments", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, rec.Body.String(), ErrMissingToken.Error())
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Secret: testSecret})
	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	rec := serve(t, m, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Secret: testSecret})
	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	rec := serve(t, m, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid bearer token")
}

func TestAuthMiddleware_ValidHeaderToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Secret: testSecret})
	token, err := GenerateToken("deploy-bot", testSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(t, m, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deploy-bot", subjectOf(t, rec))
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Secret: testSecret})
	token, err := GenerateToken("browser", testSecret, time.Hour)
	require.NoError(t, err)

	rec := serve(t, m, httptest.NewRequest("GET", "/api/v1/deployments/x/events?access_token="+token, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "browser", subjectOf(t, rec))
}
