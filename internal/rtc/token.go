// Package rtc issues media-channel credentials for voice and video calls.
package rtc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-counsel/internal/domain"
)

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// TokenIssuer mints a credential scoped to one channel and one numeric uid.
type TokenIssuer interface {
	IssueToken(channel string, uid uint32, role Role, ttl time.Duration) (string, error)
}

type Claims struct {
	AppID   string `json:"appId"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer signs channel credentials with the RTC app certificate.
type JWTIssuer struct {
	appID       string
	certificate []byte
	now         func() time.Time
}

func NewJWTIssuer(appID, certificate string) (*JWTIssuer, error) {
	if appID == "" || certificate == "" {
		return nil, errors.New("rtc app id and certificate are required")
	}
	return &JWTIssuer{appID: appID, certificate: []byte(certificate), now: time.Now}, nil
}

func (i *JWTIssuer) IssueToken(channel string, uid uint32, role Role, ttl time.Duration) (string, error) {
	if channel == "" || uid == 0 {
		return "", fmt.Errorf("%w: rtc token needs a channel and a non-zero uid", domain.ErrValidation)
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AppID:   i.appID,
		Channel: channel,
		UID:     uid,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(uid), 10),
			Issuer:    i.appID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(i.certificate)
	if err != nil {
		return "", fmt.Errorf("%w: sign rtc token: %v", domain.ErrUpstream, err)
	}
	return signed, nil
}

// Verify parses a credential issued by this issuer. The media edge uses the same check.
func (i *JWTIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.certificate, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(i.appID))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
