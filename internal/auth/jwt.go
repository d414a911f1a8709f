// Package auth handles caller identity tokens.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opengov-pe/radar/internal/domain"
)

// Roles carried in access tokens.
const (
	RoleSecretaria = "secretaria"
	RoleSCGE       = "scge"
)

// Claims are the JWT claims for portal access tokens.
type Claims struct {
	Role         string `json:"role"`
	SecretariaID int64  `json:"secretariaId,omitempty"`
	jwt.RegisteredClaims
}

// IsSCGE reports whether the caller is a central-authority reviewer.
func (c *Claims) IsSCGE() bool {
	return c.Role == RoleSCGE
}

// JWTService creates and validates access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
}

// NewJWTService creates a token service with an HS256 signing key.
func NewJWTService(signingKey, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateToken issues an access token for a role. secretariaID is zero for
// central-authority tokens.
func (s *JWTService) GenerateToken(role string, secretariaID int64, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:         role,
		SecretariaID: secretariaID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	return token.SignedString(s.signingKey)
}

// ValidateToken parses and verifies a token string.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, &domain.AuthorizationError{}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, &domain.AuthorizationError{}
	}
	if claims.Role != RoleSecretaria && claims.Role != RoleSCGE {
		return nil, &domain.AuthorizationError{}
	}

	return claims, nil
}

// FromAuthHeader validates the token in an Authorization: Bearer header.
func (s *JWTService) FromAuthHeader(header string) (*Claims, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, &domain.AuthorizationError{}
	}
	return s.ValidateToken(strings.TrimPrefix(header, prefix))
}
