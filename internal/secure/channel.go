package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Channel is the per-connection symmetric codec. Every event after the key
// exchange travels as `iv:ciphertext:hmac` with base64 fields: AES-256-CBC
// under a fresh random IV, authenticated by an HMAC-SHA256 over
// iv||ciphertext with the same key.
type Channel struct {
	key [32]byte
}

func NewChannel(key [32]byte) *Channel {
	return &Channel{key: key}
}

// Seal encrypts and authenticates a plaintext frame.
func (c *Channel) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if err := ReadRandom(iv); err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	mac := hmac.New(sha256.New, c.key[:])
	mac.Write(iv)
	mac.Write(ct)

	enc := base64.StdEncoding
	return enc.EncodeToString(iv) + ":" + enc.EncodeToString(ct) + ":" + enc.EncodeToString(mac.Sum(nil)), nil
}

// Open verifies and decrypts a frame. The HMAC is checked before any
// decryption is attempted; on any failure it returns ok=false with no
// detail, so a tampering peer learns nothing about why.
func (c *Channel) Open(frame string) (plaintext []byte, ok bool) {
	parts := strings.Split(frame, ":")
	if len(parts) != 3 {
		return nil, false
	}
	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, false
	}
	ct, err := enc.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, false
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, false
	}

	mac := hmac.New(sha256.New, c.key[:])
	mac.Write(iv)
	mac.Write(ct)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, false
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, false
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	out, err = pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, false
	}
	return out, true
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("secure: bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("secure: bad padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("secure: bad padding")
		}
	}
	return b[:len(b)-n], nil
}
