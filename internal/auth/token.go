package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
)

// tokenIssuer is the iss claim of every token.
const tokenIssuer = "readerstudy"

// Claims are the JWT claims carried by an access token.
type Claims struct {
	ReaderID   uint                `json:"rid"`
	ReaderCode string              `json:"code"`
	Role       entities.ReaderRole `json:"role"`
	Group      *int                `json:"grp,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity encoded in the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		ReaderID:   c.ReaderID,
		ReaderCode: c.ReaderCode,
		Role:       c.Role,
		Group:      c.Group,
	}
}

// TokenService signs and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for id and returns it with its expiry.
func (s *TokenService) Issue(id Identity) (token string, expiresAt time.Time, err error) {
	now := s.now()
	expiresAt = now.Add(s.ttl)

	claims := &Claims{
		ReaderID:   id.ReaderID,
		ReaderCode: id.ReaderCode,
		Role:       id.Role,
		Group:      id.Group,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   id.ReaderCode,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.New(err).
			Component("auth").
			Category(errors.CategorySystem).
			Build()
	}
	return token, expiresAt, nil
}

// Parse verifies a token and returns its claims. Any failure is reported as
// ErrInvalidToken.
func (s *TokenService) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.ReaderID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
