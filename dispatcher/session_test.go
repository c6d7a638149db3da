package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionKey = "session-key-for-tests"
	testIssuer     = "runbox-tests"
)

func TestSessionVerifier(t *testing.T) {
	verifier := NewSessionVerifier(testSessionKey, testIssuer)

	t.Run("Valid", func(t *testing.T) {
		token, err := IssueSession(testSessionKey, testIssuer, "alice", time.Minute)
		require.NoError(t, err)

		subject, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", subject)
	})

	t.Run("WrongKey", func(t *testing.T) {
		token, err := IssueSession("another-key", testIssuer, "alice", time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := IssueSession(testSessionKey, testIssuer, "alice", -time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		token, err := IssueSession(testSessionKey, "someone-else", "alice", time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("AnyIssuerWhenUnset", func(t *testing.T) {
		token, err := IssueSession(testSessionKey, "someone-else", "alice", time.Minute)
		require.NoError(t, err)

		subject, err := NewSessionVerifier(testSessionKey, "").Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", subject)
	})

	t.Run("OtherAlgorithm", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSessionKey))
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("MissingExpiry", func(t *testing.T) {
		claims := jwt.RegisteredClaims{Issuer: testIssuer, Subject: "alice"}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionKey))
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("MissingSubject", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionKey))
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := verifier.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("EmptyKeyRejectsEverything", func(t *testing.T) {
		token, err := IssueSession(testSessionKey, testIssuer, "alice", time.Minute)
		require.NoError(t, err)

		_, err = NewSessionVerifier("", testIssuer).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestIssueSessionValidation(t *testing.T) {
	_, err := IssueSession("", testIssuer, "alice", time.Minute)
	assert.Error(t, err)

	_, err = IssueSession(testSessionKey, testIssuer, "", time.Minute)
	assert.Error(t, err)
}

func TestSessionMiddlewareTokenSources(t *testing.T) {
	token, err := IssueSession(testSessionKey, testIssuer, "alice", time.Minute)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/whoami", SessionMiddleware(NewSessionVerifier(testSessionKey, testIssuer)), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(subjectKey))
	})

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"Bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"LowercaseScheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusOK},
		{"Cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusOK},
		{"BasicScheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"None", func(*http.Request) {}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
			}
		})
	}
}
