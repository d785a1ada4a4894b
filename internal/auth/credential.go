package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"

	"drafttable/internal/domain"
	"drafttable/internal/secure"
)

// Argon2Params is the current KDF policy for new credentials. The stored
// credential carries its own copy so verification keeps the original cost.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

func defaultParams() Argon2Params {
	return Argon2Params{
		Time:    3,
		Memory:  64 * 1024, // 64 MiB
		Threads: 1,
		KeyLen:  32,
		SaltLen: 16,
	}
}

var ErrPasswordLength = errors.New("auth: password must be at least 8 characters")

// NewCredential derives a fresh admin credential from a plaintext password.
func NewCredential(password string, params Argon2Params) (*domain.AdminCredential, error) {
	if len(password) < 8 {
		return nil, ErrPasswordLength
	}
	salt := make([]byte, params.SaltLen)
	if err := secure.ReadRandom(salt); err != nil {
		return nil, err
	}
	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return &domain.AdminCredential{
		Salt:    salt,
		Hash:    hash,
		Time:    params.Time,
		Memory:  params.Memory,
		Threads: params.Threads,
		KeyLen:  params.KeyLen,
	}, nil
}

// VerifyPassword checks a plaintext password against the stored credential
// in constant time.
func VerifyPassword(cred *domain.AdminCredential, password string) bool {
	if cred == nil {
		return false
	}
	calculated := argon2.IDKey([]byte(password), cred.Salt, cred.Time, cred.Memory, cred.Threads, cred.KeyLen)
	return subtle.ConstantTimeCompare(calculated, cred.Hash) == 1
}

// challengeResponse computes HMAC-SHA256 over the nonce keyed by the stored
// hash. The client derives the same hash locally from the salt and its
// password, so the nonce-independent hash never crosses the wire.
func challengeResponse(cred *domain.AdminCredential, nonce []byte) []byte {
	mac := hmac.New(sha256.New, cred.Hash)
	mac.Write(nonce)
	return mac.Sum(nil)
}
