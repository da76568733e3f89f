// Package token mints and verifies HS256 session tokens. Verification covers
// the signature and expiry only; device liveness is checked by the caller.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role     Role   `json:"role"`
	DeviceID string `json:"deviceId,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID parses the numeric subject.
func (c *Claims) SubjectID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Issued is a freshly signed token and its expiry.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for subjectID. deviceID is empty for admin tokens.
// Each token carries a random jti so two logins never produce equal tokens.
func (i *Issuer) Issue(subjectID int64, role Role, deviceID string, ttl time.Duration) (Issued, error) {
	now := i.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Role:     role,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subjectID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("failed to sign token: %w", err)
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return Issued{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, algorithm, issuer and expiry. Every failure
// collapses into ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAdmin && claims.Role != RoleStudent {
		return nil, ErrInvalidToken
	}
	if claims.Role == RoleStudent && claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
