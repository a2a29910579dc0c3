package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required for administrative endpoints.
const RoleAdmin = "admin"

// Context keys set after a token is accepted.
const (
	ContextSubject = "auth_subject"
	ContextRole    = "auth_role"
)

// JWTClaims represents the JWT token claims.
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates HMAC-signed bearer tokens.
type AuthMiddleware struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware. An empty issuer
// accepts tokens from any issuer.
func NewAuthMiddleware(secretKey, issuer string) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		now:       time.Now,
	}
}

// RequireAuth rejects requests without a valid bearer token.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := am.authenticate(c)
		if !ok {
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// authenticate validates the request token, aborting with 401 on failure.
func (am *AuthMiddleware) authenticate(c *gin.Context) (*JWTClaims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		abortUnauthorized(c, "Authorization header required")
		return nil, false
	}

	// Bearer prefix is case-insensitive (RFC 6750)
	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" || tokenParts[1] == "" {
		abortUnauthorized(c, "Invalid authorization header format")
		return nil, false
	}

	claims, err := am.ValidateToken(tokenParts[1])
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			abortUnauthorized(c, "Token expired")
		} else {
			abortUnauthorized(c, "Invalid token")
		}
		return nil, false
	}
	return claims, true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

// GenerateToken creates a signed token for subject with the given role.
func (am *AuthMiddleware) GenerateToken(subject, role string, duration time.Duration) (string, error) {
	now := am.now()
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    am.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(am.secretKey)
}

// ValidateToken validates a JWT token and returns claims.
func (am *AuthMiddleware) ValidateToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(am.now),
	}
	if am.issuer != "" {
		opts = append(opts, jwt.WithIssuer(am.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
