package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// TestDeriveKey tests Argon2id derivation with stored parameters
func TestDeriveKey(t *testing.T) {
	params := TestParams()
	password := []byte("test-password-123")

	key, err := DeriveKey(password, params)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	key2, err := DeriveKey(password, params.Clone())
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	differentKey, _ := DeriveKey([]byte("different-password"), params)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different password should produce different key")
	}

	other := TestParams()
	differentKey, _ = DeriveKey(password, other)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different salt should produce different key")
	}

	costlier := params.Clone()
	costlier.TimeCost = 2
	differentKey, _ = DeriveKey(password, costlier)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different time cost should produce different key")
	}
}

// TestDefaultKDFParams verifies defaults match OWASP recommendations
func TestDefaultKDFParams(t *testing.T) {
	cost := DefaultKDFParams()
	if cost.MemoryKiB != 64*1024 {
		t.Errorf("MemoryKiB = %d, want %d (64MB)", cost.MemoryKiB, 64*1024)
	}
	if cost.TimeCost != 3 {
		t.Errorf("TimeCost = %d, want 3", cost.TimeCost)
	}
	if cost.Parallelism != 4 {
		t.Errorf("Parallelism = %d, want 4", cost.Parallelism)
	}

	p, err := NewKDFParams(cost)
	if err != nil {
		t.Fatalf("NewKDFParams() error = %v", err)
	}
	if p.Algorithm != KDFAlgorithm {
		t.Errorf("Algorithm = %q, want %q", p.Algorithm, KDFAlgorithm)
	}
	if len(p.Salt) != SaltLength {
		t.Errorf("salt length = %d, want %d", len(p.Salt), SaltLength)
	}
}

func TestKDFParamsValidate(t *testing.T) {
	base := TestParams()

	tests := []struct {
		name   string
		mutate func(p *KDFParams)
	}{
		{"unknown algorithm", func(p *KDFParams) { p.Algorithm = "scrypt" }},
		{"short salt", func(p *KDFParams) { p.Salt = p.Salt[:8] }},
		{"zero time cost", func(p *KDFParams) { p.TimeCost = 0 }},
		{"excessive time cost", func(p *KDFParams) { p.TimeCost = 11 }},
		{"tiny memory", func(p *KDFParams) { p.MemoryKiB = 1024 }},
		{"huge memory", func(p *KDFParams) { p.MemoryKiB = 4 * 1024 * 1024 }},
		{"zero parallelism", func(p *KDFParams) { p.Parallelism = 0 }},
		{"excessive parallelism", func(p *KDFParams) { p.Parallelism = 64 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base.Clone()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidKDFParams) {
				t.Errorf("Validate() error = %v, want %v", err, ErrInvalidKDFParams)
			}
			if _, err := DeriveKey([]byte("pw"), p); !errors.Is(err, ErrInvalidKDFParams) {
				t.Errorf("DeriveKey() error = %v, want %v", err, ErrInvalidKDFParams)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("Validate() on TestParams error = %v", err)
	}
}

// TestEncrypt tests the AES-256-GCM encryption function
func TestEncrypt(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("secret data to encrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext should not equal plaintext")
	}
	if len(ciphertext) != len(plaintext)+TagLength {
		t.Errorf("Encrypt() ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+TagLength)
	}
}

// TestEncryptInvalidKeyLength tests that Encrypt rejects invalid key lengths
func TestEncryptInvalidKeyLength(t *testing.T) {
	tests := []struct {
		name   string
		keyLen int
	}{
		{"too short (16 bytes)", 16},
		{"too short (24 bytes)", 24},
		{"too long (48 bytes)", 48},
		{"empty key", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keyLen)
			if _, _, err := Encrypt(key, []byte("test data")); err != ErrInvalidKeyLength {
				t.Errorf("Encrypt() error = %v, want %v", err, ErrInvalidKeyLength)
			}
		})
	}
}

// TestEncryptDecryptRoundTrip covers empty and large payloads
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	large := make([]byte, 1<<20)
	if _, err := rand.Read(large); err != nil {
		t.Fatal(err)
	}

	for _, plaintext := range [][]byte{{}, []byte("x"), []byte("パスワード"), large} {
		ciphertext, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		got, err := Decrypt(key, ciphertext, nonce)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() returned %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

// TestNonceUniqueness encrypts the same plaintext repeatedly
func TestNonceUniqueness(t *testing.T) {
	key := randomKey(t)
	seen := make(map[string]bool)
	var prev []byte
	for i := 0; i < 1000; i++ {
		ciphertext, nonce, err := Encrypt(key, []byte("same plaintext"))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if seen[string(nonce)] {
			t.Fatalf("nonce repeated after %d encryptions", i)
		}
		seen[string(nonce)] = true
		if prev != nil && bytes.Equal(prev, ciphertext) {
			t.Fatal("consecutive encryptions produced identical ciphertext")
		}
		prev = ciphertext
	}
}

// TestDecryptFailsClosed tests wrong key, tampering and bad inputs
func TestDecryptFailsClosed(t *testing.T) {
	key := randomKey(t)
	ciphertext, nonce, err := Encrypt(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(randomKey(t), ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}

	for i := range ciphertext {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01
		if _, err := Decrypt(key, tampered, nonce); err != ErrDecryptionFailed {
			t.Fatalf("Decrypt() with byte %d flipped error = %v, want %v", i, err, ErrDecryptionFailed)
		}
	}

	badNonce := append([]byte(nil), nonce...)
	badNonce[0] ^= 0xff
	if _, err := Decrypt(key, ciphertext, badNonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong nonce error = %v, want %v", err, ErrDecryptionFailed)
	}

	tests := []struct {
		name       string
		key        []byte
		ciphertext []byte
		nonce      []byte
		wantErr    error
	}{
		{"short key", key[:16], ciphertext, nonce, ErrInvalidKeyLength},
		{"short nonce", key, ciphertext, nonce[:8], ErrInvalidNonceLength},
		{"truncated ciphertext", key, ciphertext[:TagLength-1], nonce, ErrCiphertextTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.key, tt.ciphertext, tt.nonce); err != tt.wantErr {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestSecureWipe tests that SecureWipe zeros all bytes
func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive data that should be wiped")
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte %d = %d, want 0", i, b)
		}
	}
	SecureWipe(nil)
}

func TestSession(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	sealed, err := s.Seal([]byte("clipboard text"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("clipboard text")) {
		t.Error("Seal() output contains plaintext")
	}
	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(got) != "clipboard text" {
		t.Errorf("Open() = %q, want %q", got, "clipboard text")
	}

	other, _ := NewSession()
	defer other.Close()
	if _, err := other.Open(sealed); err != ErrDecryptionFailed {
		t.Errorf("Open() with another session error = %v, want %v", err, ErrDecryptionFailed)
	}

	s.Close()
	s.Close()
	if _, err := s.Seal([]byte("x")); err != ErrSessionClosed {
		t.Errorf("Seal() after Close error = %v, want %v", err, ErrSessionClosed)
	}
	if _, err := s.Open(sealed); err != ErrSessionClosed {
		t.Errorf("Open() after Close error = %v, want %v", err, ErrSessionClosed)
	}
}
