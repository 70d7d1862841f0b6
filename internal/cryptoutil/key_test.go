package cryptoutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseKeyForms(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, KeySize)
	b64 := base64.StdEncoding.EncodeToString(raw)
	t.Setenv("WDLKIT_TEST_KEY", "hex:"+strings.Repeat("ab", KeySize))

	for _, value := range []string{
		b64,
		"base64:" + b64,
		"hex:" + strings.Repeat("ab", KeySize),
		strings.Repeat("ab", KeySize),
		"env:WDLKIT_TEST_KEY",
		"  " + b64 + "\n",
	} {
		key, err := ParseKey(value)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", value, err)
		}
		if !bytes.Equal(key, raw) {
			t.Fatalf("ParseKey(%q) = %x", value, key)
		}
	}
}

func TestParseKeyErrors(t *testing.T) {
	t.Setenv("WDLKIT_EMPTY_KEY", "")
	for _, value := range []string{"", "hex:abcd", "hex:zz", "env:WDLKIT_EMPTY_KEY"} {
		if _, err := ParseKey(value); err == nil {
			t.Fatalf("ParseKey(%q) should fail", value)
		}
	}
}

func TestOptionalKey(t *testing.T) {
	key, err := OptionalKey(" ")
	if err != nil || key != nil {
		t.Fatalf("got %x, %v", key, err)
	}
	if _, err := OptionalKey("hex:abcd"); err == nil {
		t.Fatal("a malformed key should still fail")
	}
}

func TestIsEncrypted(t *testing.T) {
	cases := []struct {
		meta map[string]string
		want bool
	}{
		{ObjectMetadata(true), true},
		{ObjectMetadata(false), false},
		{map[string]string{"Wdlkit-Encrypted": "true"}, true},
		{map[string]string{"other": "true"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsEncrypted(tc.meta); got != tc.want {
			t.Fatalf("IsEncrypted(%v) = %v", tc.meta, got)
		}
	}
}

func TestStreamRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)
	var sealed bytes.Buffer
	w, err := EncryptWriter(&sealed, key)
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write([]byte("a,b\n1,2\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	r, err := DecryptReader(&sealed, key)
	if err != nil {
		t.Fatalf("decrypt reader: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(plain) != "a,b\n1,2\n" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	sealed, err := EncryptConfig([]byte(`{"threads": 4}`), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptConfig(sealed, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != `{"threads": 4}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	tampered := bytes.Clone(sealed)
	tampered[5]++
	if _, err := DecryptConfig(tampered, key); err == nil {
		t.Fatal("a modified header should be rejected")
	}
	if _, err := DecryptConfig([]byte(`{"threads": 4}`), key); !errors.Is(err, ErrConfigFormat) {
		t.Fatalf("plain json: %v", err)
	}
}
