package wsgateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousUser is the user id given to every connection when no JWT secret
// is configured.
const AnonymousUser = "anonymous"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// AuthManager validates HMAC-signed JWTs presented by subscribers.
type AuthManager struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthManager creates an auth manager. An empty secret disables
// authentication.
func NewAuthManager(secret string) *AuthManager {
	return &AuthManager{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Enabled reports whether tokens are checked.
func (a *AuthManager) Enabled() bool {
	return len(a.secret) > 0
}

// ValidateToken returns the user id carried by tokenString, taken from the
// user_id claim or, failing that, the subject.
func (a *AuthManager) ValidateToken(tokenString string) (string, error) {
	if !a.Enabled() {
		return AnonymousUser, nil
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: no user_id or sub claim", ErrInvalidToken)
}

// ExtractToken reads the token from an Authorization header value. Both
// "Bearer <token>" and a bare token are accepted.
func ExtractToken(header string) (string, error) {
	parts := strings.Fields(header)
	switch {
	case len(parts) == 1:
		return parts[0], nil
	case len(parts) == 2 && strings.EqualFold(parts[0], "bearer"):
		return parts[1], nil
	case len(parts) == 0:
		return "", ErrMissingToken
	default:
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
}

// Authenticate resolves the user of an upgrade request. The token comes
// from the Authorization header or the token query parameter, since browsers
// cannot set headers on WebSocket handshakes.
func (a *AuthManager) Authenticate(r *http.Request) (string, error) {
	if !a.Enabled() {
		return AnonymousUser, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.URL.Query().Get("token")
	}
	token, err := ExtractToken(header)
	if err != nil {
		return "", err
	}
	return a.ValidateToken(token)
}
