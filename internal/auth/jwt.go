// Package auth issues and validates the access tokens that identify feed
// viewers and moment owners on the HTTP surface.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted by the API.
const TokenTypeAccess = "access"

// Issuer is written to and required in the iss claim.
const Issuer = "wanderlog"

// AccessTokenExpiry is the lifetime of generated access tokens.
const AccessTokenExpiry = 15 * time.Minute

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")

	// ErrEmptyViewerID is returned when a token is requested for an empty subject.
	ErrEmptyViewerID = errors.New("viewer ID cannot be empty")
)

// Claims are the JWT claims carried by an access token. The subject is the
// viewer's user UUID.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// ViewerID returns the token subject.
func (c *Claims) ViewerID() string {
	return c.Subject
}

// JWTService handles JWT token operations.
// Tokens are signed with currentSecret and validated against currentSecret,
// then previousSecret when a rotation is in progress.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewJWTService creates a JWTService. previousSecret may be empty.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	return NewJWTServiceWithLeeway(currentSecret, previousSecret, DefaultLeeway)
}

// NewJWTServiceWithLeeway creates a JWTService with a custom clock-skew leeway.
func NewJWTServiceWithLeeway(currentSecret, previousSecret string, leeway time.Duration) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        leeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateAccessToken signs a new access token for viewerID.
func (s *JWTService) GenerateAccessToken(viewerID string) (string, error) {
	if viewerID == "" {
		return "", ErrEmptyViewerID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   viewerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Type: TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates an access token, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	default:
		return nil, ErrInvalidToken
	}

	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
