// Package auth validates the bearer credential a connection presents once at
// connect time. The resulting identity is pinned to the connection for the
// session; the signaling core trusts it and never re-verifies per message.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token has no subject")
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID      domain.UserID
	DisplayName string
}

// Verifier checks a bearer credential and resolves it to an identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier validates HS256 bearer tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Identity{}, ErrNoSubject
	}
	return Identity{UserID: domain.UserID(c.Subject), DisplayName: c.DisplayName}, nil
}

const (
	ctxUserID      = "user_id"
	ctxDisplayName = "display_name"
)

// Middleware rejects requests without a valid bearer credential. Websocket
// clients may pass the token as a query parameter since browsers cannot set
// headers on upgrade requests.
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		id, err := v.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.Set(ctxUserID, string(id.UserID))
		c.Set(ctxDisplayName, id.DisplayName)
		c.Next()
	}
}

// IdentityFrom reads the identity the middleware attached to the request.
func IdentityFrom(c *gin.Context) Identity {
	return Identity{
		UserID:      domain.UserID(c.GetString(ctxUserID)),
		DisplayName: c.GetString(ctxDisplayName),
	}
}
