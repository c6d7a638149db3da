package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is read when no Authorization header is present.
const SessionCookie = "session"

// subjectKey stores the verified session subject on the gin context.
const subjectKey = "session_subject"

// ErrInvalidSession is returned for any token that does not verify.
var ErrInvalidSession = errors.New("invalid session")

// SessionVerifier checks HS256 session tokens issued by the login flow.
type SessionVerifier struct {
	key    []byte
	issuer string
}

// NewSessionVerifier returns a verifier for tokens signed with secret. An
// empty issuer accepts any issuer.
func NewSessionVerifier(secret, issuer string) *SessionVerifier {
	return &SessionVerifier{key: []byte(secret), issuer: issuer}
}

// Verify returns the subject of a valid token.
func (v *SessionVerifier) Verify(raw string) (string, error) {
	if len(v.key) == 0 || raw == "" {
		return "", ErrInvalidSession
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}

// IssueSession signs a session token for subject. It backs the `token`
// subcommand and tests; production sessions come from the login flow.
func IssueSession(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret is empty")
	}
	if subject == "" {
		return "", errors.New("session subject is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SessionMiddleware rejects requests without a valid session with 401.
func SessionMiddleware(v *SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := v.Verify(sessionToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": MsgUnauthorized})
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
