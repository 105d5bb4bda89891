package memory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
	saltLen       = 16

	// blindLen is the number of HMAC bytes kept per blinded term.
	blindLen = 16
)

// blindInfo separates the term-blinding key from the payload key.
var blindInfo = []byte("membank:terms:v1")

// keyCheckPlaintext is sealed into the meta table at creation so a wrong
// passphrase is detected at open time instead of on the first read.
var keyCheckPlaintext = []byte("membank:key-check:v1")

var errCiphertextShort = errors.New("ciphertext too short")

// sealer encrypts record payloads with AES-256-GCM and blinds index terms
// with HMAC-SHA256 under a key derived from the same passphrase. A nil
// *sealer passes payloads and terms through unchanged.
type sealer struct {
	aead  cipher.AEAD
	blind []byte
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("memory: generate salt: %w", err)
	}
	return salt, nil
}

func newSealer(passphrase, salt []byte) (*sealer, error) {
	key := pbkdf2.Key(passphrase, salt, kdfIterations, kdfKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("memory: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("memory: gcm: %w", err)
	}
	blind := make([]byte, kdfKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, blindInfo), blind); err != nil {
		return nil, fmt.Errorf("memory: derive term key: %w", err)
	}
	return &sealer{aead: aead, blind: blind}, nil
}

// blindTerm maps an index term to an opaque, deterministic token so the
// persisted lexical and TF-IDF tables reveal nothing about sealed records.
func (s *sealer) blindTerm(term string) string {
	if s == nil {
		return term
	}
	mac := hmac.New(sha256.New, s.blind)
	mac.Write([]byte(term))
	return hex.EncodeToString(mac.Sum(nil)[:blindLen])
}

// seal returns nonce || ciphertext.
func (s *sealer) seal(plain []byte) ([]byte, error) {
	if s == nil {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("memory: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	if s == nil {
		return sealed, nil
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errCiphertextShort
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], nil)
}
