package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
)

// SymmetricKeySize is the AES-256 key size used for upgraded connections.
const SymmetricKeySize = 32

// fixedNonce is reused for every packet encrypted under a given
// SymmetricSession. This is a known weakness carried over from the reference
// implementation's fixed AES-GCM-SIV nonce; see DESIGN.md for the decision to
// keep it rather than silently change the wire format.
var fixedNonce = []byte("123456789123")

// SymmetricSession is the upgraded, per-connection encryption tunnel agreed
// between two peers after a successful AnnounceSecret exchange.
type SymmetricSession struct {
	secret []byte
	aead   cipher.AEAD
}

// NewSymmetricSession mints a fresh random session secret.
func NewSymmetricSession() (*SymmetricSession, error) {
	secret := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "generate symmetric secret")
	}
	return NewSymmetricSessionFromSecret(secret)
}

// NewSymmetricSessionFromSecret installs a symmetric session from a secret
// received from a peer (decrypted out of an AnnounceSecret message).
func NewSymmetricSessionFromSecret(secret []byte) (*SymmetricSession, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, errors.Wrap(err, "aes new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "aes-gcm new")
	}
	return &SymmetricSession{secret: secret, aead: aead}, nil
}

// Secret returns the raw session key, for embedding in an AnnounceSecret
// message sent to the other side.
func (s *SymmetricSession) Secret() []byte {
	return s.secret
}

// Encrypt seals data under the fixed session nonce.
func (s *SymmetricSession) Encrypt(data []byte) ([]byte, error) {
	out := s.aead.Seal(nil, fixedNonce[:s.aead.NonceSize()], data, nil)
	return out, nil
}

// Decrypt opens data sealed with Encrypt.
func (s *SymmetricSession) Decrypt(data []byte) ([]byte, error) {
	out, err := s.aead.Open(nil, fixedNonce[:s.aead.NonceSize()], data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "aes-gcm open")
	}
	return out, nil
}
