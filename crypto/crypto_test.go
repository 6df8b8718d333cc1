package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewCipher(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("NewCipher with empty key should return error")
	}
	if _, err := NewCipher("not-base64!!!"); err == nil {
		t.Error("NewCipher with invalid base64 should return error")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := NewCipher(short); err == nil {
		t.Error("NewCipher with short key should return error")
	}
	if _, err := NewCipher(testKey(t)); err != nil {
		t.Errorf("NewCipher with valid key error = %v", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plaintext := "oauth-access-token-abc123"
	sealed, err := c.SealString(plaintext)
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	if sealed == plaintext {
		t.Error("sealed value equals plaintext")
	}
	opened, err := c.OpenString(sealed)
	if err != nil {
		t.Fatalf("OpenString: %v", err)
	}
	if opened != plaintext {
		t.Errorf("round trip = %q, want %q", opened, plaintext)
	}
}

func TestSealEmptyPassesThrough(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	sealed, err := c.SealString("")
	if err != nil || sealed != "" {
		t.Errorf("SealString(\"\") = (%q, %v), want (\"\", nil)", sealed, err)
	}
	opened, err := c.OpenString("")
	if err != nil || opened != "" {
		t.Errorf("OpenString(\"\") = (%q, %v), want (\"\", nil)", opened, err)
	}
}

func TestSealNonDeterministic(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	a, _ := c.SealString("same-token")
	b, _ := c.SealString("same-token")
	if a == b {
		t.Error("two seals of the same plaintext should differ (random nonce)")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	sealed, _ := c.SealString("token-value")

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := c.OpenString(tampered); err == nil {
		t.Error("OpenString should reject tampered ciphertext")
	}

	if _, err := c.OpenString("!!not-base64"); err == nil {
		t.Error("OpenString should reject invalid base64")
	}
	tiny := base64.StdEncoding.EncodeToString([]byte("ab"))
	if _, err := c.OpenString(tiny); err == nil {
		t.Error("OpenString should reject truncated ciphertext")
	}
}

func TestOpenWrongKey(t *testing.T) {
	c1, _ := NewCipher(testKey(t))
	c2, _ := NewCipher(testKey(t))
	sealed, _ := c1.SealString("token-value")
	if _, err := c2.OpenString(sealed); err == nil {
		t.Error("OpenString under a different key should fail")
	} else if !strings.Contains(err.Error(), "decryption failed") {
		t.Errorf("error = %v, want generic decryption failure", err)
	}
}
