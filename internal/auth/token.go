package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drafttable/internal/domain"
)

const (
	tokenIssuer = "drafttable"
	tokenTTL    = 12 * time.Hour
)

var ErrInvalidToken = errors.New("auth: invalid resume token")

// resumeKey derives the HS256 signing key from the credential hash, so every
// password rotation invalidates all outstanding resume tokens.
func resumeKey(cred *domain.AdminCredential) []byte {
	sum := sha256.Sum256(append(append([]byte{}, cred.Hash...), []byte("resume-v1")...))
	return sum[:]
}

// IssueResumeToken mints a short-lived token bound to the device, letting an
// admin reconnect after a network drop without a fresh challenge.
func IssueResumeToken(cred *domain.AdminCredential, deviceToken string) (string, error) {
	if cred == nil {
		return "", domain.ErrSetupRequired
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   deviceToken,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(resumeKey(cred))
}

// VerifyResumeToken checks the token signature and expiry and confirms it
// was minted for the presenting device.
func VerifyResumeToken(cred *domain.AdminCredential, deviceToken, tokenStr string) error {
	if cred == nil {
		return domain.ErrSetupRequired
	}
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
		}
		return resumeKey(cred), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != deviceToken {
		return ErrInvalidToken
	}
	return nil
}
