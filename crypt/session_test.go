package crypt

import (
	"bytes"
	"errors"
	"testing"
)

func createTestSession(t *testing.T) (*Session, Key) {
	t.Helper()

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	session, err := NewSession(key)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session, key
}

func TestSession_EncryptDecrypt(t *testing.T) {
	session, _ := createTestSession(t)

	plaintext := []byte("Hello, World!")
	ciphertext := session.Encrypt(42, plaintext)

	nonce, decrypted, err := session.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if nonce != 42 {
		t.Errorf("nonce: got %d, want 42", nonce)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted != plaintext: got %q, want %q", decrypted, plaintext)
	}
}

func TestSession_NoncePrefix(t *testing.T) {
	session, _ := createTestSession(t)

	const nonce = uint64(1)<<63 | 7
	ciphertext := session.Encrypt(nonce, []byte("payload"))

	if len(ciphertext) != NonceSize+len("payload")+16 {
		t.Errorf("unexpected ciphertext length %d", len(ciphertext))
	}

	got, _, err := session.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if got != nonce {
		t.Errorf("nonce round trip: got %#x, want %#x", got, nonce)
	}
}

func TestSession_TamperRejected(t *testing.T) {
	session, _ := createTestSession(t)

	ciphertext := session.Encrypt(1, []byte("payload"))
	for _, i := range []int{0, NonceSize, len(ciphertext) - 1} {
		corrupted := bytes.Clone(ciphertext)
		corrupted[i] ^= 0x01
		if _, _, err := session.Decrypt(corrupted); !errors.Is(err, ErrBadAuth) {
			t.Errorf("corrupted byte %d: got %v, want ErrBadAuth", i, err)
		}
	}
}

func TestSession_WrongKeyRejected(t *testing.T) {
	alice, _ := createTestSession(t)
	mallory, _ := createTestSession(t)

	ciphertext := alice.Encrypt(1, []byte("payload"))
	if _, _, err := mallory.Decrypt(ciphertext); !errors.Is(err, ErrBadAuth) {
		t.Errorf("wrong key: got %v, want ErrBadAuth", err)
	}
}

func TestSession_TooShort(t *testing.T) {
	session, _ := createTestSession(t)

	for _, size := range []int{0, 1, NonceSize, Overhead - 1} {
		if _, _, err := session.Decrypt(make([]byte, size)); !errors.Is(err, ErrTooShort) {
			t.Errorf("size %d: got %v, want ErrTooShort", size, err)
		}
	}
}

func TestSession_EmptyPlaintext(t *testing.T) {
	session, _ := createTestSession(t)

	ciphertext := session.Encrypt(9, nil)
	nonce, plaintext, err := session.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if nonce != 9 || len(plaintext) != 0 {
		t.Errorf("got nonce %d payload %q, want 9 and empty", nonce, plaintext)
	}
}

func TestKey_StringRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	parsed, err := ParseKey(key.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != key {
		t.Errorf("key round trip mismatch")
	}
}

func TestParseKey_Malformed(t *testing.T) {
	for _, s := range []string{"", "!!!", "c2hvcnQ", string(make([]byte, 100))} {
		if _, err := ParseKey(s); !errors.Is(err, ErrBadKey) {
			t.Errorf("ParseKey(%q): got %v, want ErrBadKey", s, err)
		}
	}
}

func TestSession_DistinctKeysDistinctCiphertext(t *testing.T) {
	a, ka := createTestSession(t)
	b, kb := createTestSession(t)
	if ka == kb {
		t.Fatal("two generated keys are identical")
	}
	if bytes.Equal(a.Encrypt(1, []byte("x")), b.Encrypt(1, []byte("x"))) {
		t.Error("distinct keys produced identical ciphertext")
	}
}
