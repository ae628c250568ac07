package cryptobox

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func mustKey(t *testing.T) Key {
	t.Helper()
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

// TestEncryptDecryptRoundTrip checks decrypt(encrypt(P)) == P for nested JSON values.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := mustKey(t)

	payloads := []any{
		map[string]any{"type": "ping"},
		map[string]any{
			"type": "contact",
			"contact": map[string]any{
				"firstName":   "Ada",
				"phoneNumber": "+15555550100",
				"tags":        []any{"a", 1.5, true, nil, map[string]any{"deep": []any{}}},
			},
		},
		[]any{1.0, "two", []any{3.0}},
		"plain string",
		42.0,
		nil,
		map[string]any{"unicode": "héllo ☎ 世界"},
	}

	for i, p := range payloads {
		env, err := Encrypt(k, p)
		if err != nil {
			t.Fatalf("[%d] Encrypt: %v", i, err)
		}
		var got any
		if err := DecryptInto(k, env, &got); err != nil {
			t.Fatalf("[%d] Decrypt: %v", i, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Errorf("[%d] round trip mismatch: got %#v, want %#v", i, got, p)
		}
	}
}

func TestEnvelopeLayout(t *testing.T) {
	k := mustKey(t)
	payload := map[string]string{"type": "connect"}
	plain, _ := json.Marshal(payload)

	env, err := Encrypt(k, payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if want := len(plain) + TagSize + IVSize; len(env) != want {
		t.Fatalf("envelope length = %d, want %d", len(env), want)
	}

	// Same payload twice must not produce the same IV.
	env2, _ := Encrypt(k, payload)
	if bytes.Equal(env[len(env)-IVSize:], env2[len(env2)-IVSize:]) {
		t.Fatal("IV reused across Encrypt calls")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	k1, k2 := mustKey(t), mustKey(t)

	for i := 0; i < 16; i++ {
		env, err := Encrypt(k1, map[string]int{"n": i})
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := Decrypt(k2, env)
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("Decrypt with wrong key: err = %v, want ErrDecryptionFailed", err)
		}
		if got != nil {
			t.Fatalf("Decrypt with wrong key returned a value: %s", got)
		}
	}
}

func TestDecryptTamperedOrShort(t *testing.T) {
	k := mustKey(t)
	env, _ := Encrypt(k, map[string]string{"type": "ping"})

	tampered := append([]byte(nil), env...)
	tampered[0] ^= 0xff
	if _, err := Decrypt(k, tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered ciphertext: err = %v", err)
	}

	badIV := append([]byte(nil), env...)
	badIV[len(badIV)-1] ^= 0x01
	if _, err := Decrypt(k, badIV); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered IV: err = %v", err)
	}

	for _, n := range []int{0, 1, IVSize, IVSize + TagSize - 1} {
		if _, err := Decrypt(k, env[:n]); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("truncated to %d: err = %v", n, err)
		}
	}
}

func TestDecryptNonJSONPlaintext(t *testing.T) {
	k := mustKey(t)
	iv := bytes.Repeat([]byte{7}, IVSize)
	env := append(k.aead.Seal(nil, iv, []byte("not json{"), nil), iv...)

	if _, err := Decrypt(k, env); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestExportImportKey(t *testing.T) {
	k := mustKey(t)
	s := ExportKey(k)

	if strings.ContainsAny(s, "+/=") {
		t.Fatalf("exported key is not unpadded base64url: %q", s)
	}

	k2, err := ImportKey(s)
	if err != nil {
		t.Fatalf("ImportKey: %v", err)
	}
	if Fingerprint(k) != Fingerprint(k2) {
		t.Fatal("fingerprint changed across export/import")
	}

	env, _ := Encrypt(k, "x")
	var got string
	if err := DecryptInto(k2, env, &got); err != nil || got != "x" {
		t.Fatalf("imported key cannot open envelope: %v %q", err, got)
	}

	// Padded input is tolerated.
	if _, err := ImportKey(s + "="); err != nil {
		t.Fatalf("ImportKey with padding: %v", err)
	}
}

func TestImportKeyInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"bad chars": "!!!!",
		"too short": EncodeBase64URL(make([]byte, 16)),
		"too long":  EncodeBase64URL(make([]byte, 33)),
		"std alpha": strings.Repeat("+/", 22),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ImportKey(in); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("err = %v, want ErrInvalidKey", err)
			}
		})
	}
}

// TestBase64URLRoundTrip covers every length from 0 to 257, including the
// lengths not divisible by 3.
func TestBase64URLRoundTrip(t *testing.T) {
	for n := 0; n <= 257; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i*31 + n)
		}
		enc := EncodeBase64URL(b)
		if strings.Contains(enc, "=") {
			t.Fatalf("len %d: padding in %q", n, enc)
		}
		dec, err := DecodeBase64URL(enc)
		if err != nil {
			t.Fatalf("len %d: decode: %v", n, err)
		}
		if !bytes.Equal(dec, b) {
			t.Fatalf("len %d: round trip mismatch", n)
		}

		// Re-padded input decodes to the same bytes.
		if pad := (4 - len(enc)%4) % 4; pad > 0 {
			dec, err = DecodeBase64URL(enc + strings.Repeat("=", pad))
			if err != nil || !bytes.Equal(dec, b) {
				t.Fatalf("len %d: padded decode failed: %v", n, err)
			}
		}
	}
}

func TestRandomID(t *testing.T) {
	a, err := RandomID(16)
	if err != nil {
		t.Fatalf("RandomID: %v", err)
	}
	b, _ := RandomID(16)
	if a == b {
		t.Fatal("two random ids collided")
	}
	if len(a) != 22 {
		t.Fatalf("16-byte id encodes to %d chars, want 22", len(a))
	}
}
