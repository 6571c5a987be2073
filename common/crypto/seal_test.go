package crypto_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/Tegami/common/crypto"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.ParseKey(testKeyHex)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := mustKey(t)
	plain := `{"contacts":[{"displayName":"妈妈"}]}`

	sealed, err := crypto.SealString(key, plain)
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	if strings.Contains(sealed, "妈妈") {
		t.Fatal("sealed value leaks plaintext")
	}
	got, err := crypto.OpenString(key, sealed)
	if err != nil {
		t.Fatalf("OpenString: %v", err)
	}
	if got != plain {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestSeal_UniqueNonce(t *testing.T) {
	key := mustKey(t)
	a, _ := crypto.SealString(key, "same")
	b, _ := crypto.SealString(key, "same")
	if a == b {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := crypto.SealString(mustKey(t), "hello")
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	other := make([]byte, crypto.KeySize)
	if _, err := crypto.OpenString(other, sealed); err == nil {
		t.Fatal("expected error opening with the wrong key")
	}
}

func TestOpen_TooShort(t *testing.T) {
	if _, err := crypto.OpenString(mustKey(t), "AAEC"); !errors.Is(err, crypto.ErrCiphertextTooShort) {
		t.Fatalf("err = %v, want ErrCiphertextTooShort", err)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", testKeyHex, false},
		{"padded", "  " + testKeyHex + "\n", false},
		{"empty", "", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"short", "0011", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.ParseKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
