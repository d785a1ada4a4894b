package secure

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"strings"
	"testing"
)

func testChannel(t *testing.T) *Channel {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return NewChannel(key)
}

func TestChannelRoundTrip(t *testing.T) {
	ch := testChannel(t)
	msg := []byte(`{"event":"PICK_CARD","payload":{"slotIndex":3}}`)
	frame, err := ch.Seal(msg)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if got := strings.Count(frame, ":"); got != 2 {
		t.Fatalf("frame has %d separators, want 2", got)
	}
	out, ok := ch.Open(frame)
	if !ok {
		t.Fatalf("open failed")
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("round trip mismatch: got %q want %q", out, msg)
	}
}

func TestChannelRejectsTampering(t *testing.T) {
	ch := testChannel(t)
	frame, err := ch.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	parts := strings.Split(frame, ":")

	// Flip a ciphertext byte; the HMAC must catch it.
	tampered := []byte(parts[1])
	tampered[0] ^= 'x'
	if _, ok := ch.Open(parts[0] + ":" + string(tampered) + ":" + parts[2]); ok {
		t.Fatal("tampered ciphertext accepted")
	}

	// Wrong key must not verify either.
	var otherKey [32]byte
	otherKey[0] = 0xff
	if _, ok := NewChannel(otherKey).Open(frame); ok {
		t.Fatal("frame accepted under wrong key")
	}

	// Garbage frames are silently rejected.
	for _, bad := range []string{"", "a:b", "a:b:c:d", "!!!:!!!:!!!"} {
		if _, ok := ch.Open(bad); ok {
			t.Fatalf("malformed frame %q accepted", bad)
		}
	}
}

func TestChannelFreshIVPerFrame(t *testing.T) {
	ch := testChannel(t)
	a, err := ch.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := ch.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if a == b {
		t.Fatal("two seals of the same plaintext produced identical frames")
	}
}

func TestHandshakeDerivesSharedKey(t *testing.T) {
	curve := ecdh.P256()
	client, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}

	serverPub, serverChan, err := Handshake(client.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	// Derive the client side of the channel and check both ends agree.
	remote, err := curve.NewPublicKey(serverPub)
	if err != nil {
		t.Fatalf("server public: %v", err)
	}
	shared, err := client.ECDH(remote)
	if err != nil {
		t.Fatalf("client ecdh: %v", err)
	}
	key, err := deriveChannelKey(shared)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	clientChan := NewChannel(key)

	frame, err := serverChan.Seal([]byte("hello client"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, ok := clientChan.Open(frame)
	if !ok || string(out) != "hello client" {
		t.Fatalf("client failed to open server frame: ok=%v out=%q", ok, out)
	}
}

func TestHandshakeRejectsMalformedKey(t *testing.T) {
	if _, _, err := Handshake([]byte{0x04, 0x01, 0x02}); err != ErrBadClientKey {
		t.Fatalf("got %v, want ErrBadClientKey", err)
	}
	if _, _, err := Handshake(nil); err != ErrBadClientKey {
		t.Fatalf("got %v, want ErrBadClientKey", err)
	}
}
