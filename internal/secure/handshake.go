package secure

import (
	"crypto/ecdh"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfoChannel = "drafttable-channel-v1"

var ErrBadClientKey = errors.New("secure: malformed client public key")

// Handshake performs the server side of the per-connection key exchange.
// The client sends its ephemeral P-256 public key (uncompressed point);
// the server generates its own ephemeral keypair, computes the shared
// point, and derives the 256-bit channel key. The returned public key is
// sent back to the client, which derives the same key.
func Handshake(clientPublic []byte) (serverPublic []byte, channel *Channel, err error) {
	curve := ecdh.P256()
	remote, err := curve.NewPublicKey(clientPublic)
	if err != nil {
		return nil, nil, ErrBadClientKey
	}
	local, err := curve.GenerateKey(reader())
	if err != nil {
		return nil, nil, err
	}
	shared, err := local.ECDH(remote)
	if err != nil {
		return nil, nil, ErrBadClientKey
	}
	key, err := deriveChannelKey(shared)
	if err != nil {
		return nil, nil, err
	}
	return local.PublicKey().Bytes(), NewChannel(key), nil
}

func deriveChannelKey(shared []byte) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfoChannel))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return [32]byte{}, err
	}
	return key, nil
}
