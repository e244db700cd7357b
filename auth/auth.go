// Package auth validates the bearer token carried on a CONNECT packet.
// It is deliberately narrowed to the one responsibility the replication
// core needs at the connection handshake: turning a JWT into the claims
// that seed an EntityRecord's owner_id. It never stores a credential, a
// session, or a refresh token — that storage belongs elsewhere.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a CONNECT packet carries no bearer token.
var ErrNoToken = errors.New("auth: no bearer token supplied")

// ConnectClaims are the JWT claims consumed at CONNECT time
// Nothing here is persisted past the handshake.
type ConnectClaims struct {
	Subject string `json:"sub"`
	RoomID  string `json:"room_id"`
	Exp     int64  `json:"exp"`
}

type jwtClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

// Validator verifies CONNECT bearer tokens against one configured HMAC
// secret and issuer, with an explicit signing-method check but no
// database lookup: the token itself is the only source of truth the
// core needs.
type Validator struct {
	secret []byte
	issuer string
}

func NewValidator(secret, issuer string) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer}
}

// ValidateConnect verifies tokenString and returns the claims used to set
// owner_id on a newly registered entity. A missing or malformed token, a
// bad signature, or an issuer mismatch are all reported as plain errors;
// none of this is logged here — the orchestrator boundary logs once, per
// the caller's drop-and-warn error policy.
func (v *Validator) ValidateConnect(tokenString string) (ConnectClaims, error) {
	if tokenString == "" {
		return ConnectClaims{}, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return ConnectClaims{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return ConnectClaims{}, errors.New("auth: invalid token claims")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return ConnectClaims{}, fmt.Errorf("auth: unexpected issuer %q", claims.Issuer)
	}

	var exp int64
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Unix()
	}

	return ConnectClaims{
		Subject: claims.Subject,
		RoomID:  claims.RoomID,
		Exp:     exp,
	}, nil
}

// ExtractBearer pulls the token out of an Authorization header value
// ("Bearer <token>"), case-insensitive on the scheme.
func ExtractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// IssueForTesting mints a token signed with secret, for test harnesses
// and local tooling that need to exercise ValidateConnect without a full
// identity provider.
func IssueForTesting(secret, issuer, subject, roomID string, ttl time.Duration) (string, error) {
	claims := jwtClaims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
