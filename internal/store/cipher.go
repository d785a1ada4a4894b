package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"drafttable/internal/secure"
)

const nonceSize = 12

var ErrDecrypt = errors.New("store: snapshot decryption failed")

// snapshotCipher seals and opens whole snapshots with AES-256-GCM under a
// key hashed from the machine secret.
type snapshotCipher struct {
	aead cipher.AEAD
}

func newSnapshotCipher(secret []byte) (*snapshotCipher, error) {
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}
	return &snapshotCipher{aead: aead}, nil
}

// seal returns nonce||ciphertext||tag.
func (c *snapshotCipher) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if err := secure.ReadRandom(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *snapshotCipher) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	out, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
