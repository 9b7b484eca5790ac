package crypto

import (
	"errors"
	"sync"
)

// ErrSessionClosed is returned by Session methods after Close.
var ErrSessionClosed = errors.New("crypto: session is closed")

// Session holds a throwaway key that lives for one process. It protects data
// handed to shared system facilities (the clipboard) and is unrelated to any
// vault key. Create one at startup, pass it to whoever needs it, Close at exit.
type Session struct {
	mu  sync.Mutex
	key []byte
}

// NewSession creates a session with a fresh random key.
func NewSession() (*Session, error) {
	key, err := RandomBytes(KeyLength)
	if err != nil {
		return nil, err
	}
	return &Session{key: key}, nil
}

// Seal encrypts data under the session key and returns nonce||ciphertext.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSessionClosed
	}
	ciphertext, nonce, err := Encrypt(s.key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	return append(out, ciphertext...), nil
}

// Open reverses Seal.
func (s *Session) Open(sealed []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSessionClosed
	}
	if len(sealed) < NonceLength {
		return nil, ErrCiphertextTooShort
	}
	return Decrypt(s.key, sealed[NonceLength:], sealed[:NonceLength])
}

// Close wipes the session key. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		SecureWipe(s.key)
		s.key = nil
	}
}
