package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-counsel/internal/domain"
)

// TokenService validates the bearer credentials minted by the auth service.
type TokenService struct {
	jwtSecret string
}

type Claims struct {
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{jwtSecret: secret}
}

func (s *TokenService) ValidateToken(tokenString string) (domain.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Actor{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case domain.RoleClient, domain.RoleLawyer, domain.RoleAdmin:
	default:
		return domain.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	return domain.Actor{UserID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// IssueToken signs a credential in the auth service's format. Used by tests and the load generator.
func (s *TokenService) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: actor.Name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    "go-counsel",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}
