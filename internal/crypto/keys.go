// Package crypto implements the RSA-OAEP / AES-GCM encryption ladder used to
// bootstrap and then upgrade every control and data-plane connection.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// KeyBits is the RSA modulus size for freshly generated key pairs.
//
// The reference implementation this was ported from used 1024 bits with a
// "FIXME for production" next to it. We don't carry the FIXME forward.
const KeyBits = 2048

// KeyPair holds a node's long-lived asymmetric identity.
type KeyPair struct {
	private *rsa.PrivateKey
}

// NewKeyPair generates a fresh RSA key pair.
func NewKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generate rsa key")
	}
	return &KeyPair{private: priv}, nil
}

// PublicKey returns the serialisable, advertisable half of the pair.
func (k *KeyPair) PublicKey() NetworkedPublicKey {
	return NetworkedPublicKey{
		N: k.private.PublicKey.N.Text(36),
		E: big.NewInt(int64(k.private.PublicKey.E)).Text(36),
	}
}

// Decrypt reverses an RSA-OAEP-SHA256 encryption performed against this
// key pair's public half.
func (k *KeyPair) Decrypt(data []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsa-oaep decrypt")
	}
	return out, nil
}

// NetworkedPublicKey is the wire-safe, identity-defining half of a KeyPair.
// Equality and map/registry lookups are always by this value alone.
type NetworkedPublicKey struct {
	N string `json:"n"`
	E string `json:"e"`
}

// ToRSA reconstructs the standard library public key from its serialised form.
func (p NetworkedPublicKey) ToRSA() (*rsa.PublicKey, error) {
	n, ok := new(big.Int).SetString(p.N, 36)
	if !ok {
		return nil, errors.New("malformed public key modulus")
	}
	e, ok := new(big.Int).SetString(p.E, 36)
	if !ok {
		return nil, errors.New("malformed public key exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// Encrypt RSA-OAEP-SHA256 encrypts data so only the holder of the matching
// private key can read it.
func (p NetworkedPublicKey) Encrypt(data []byte) ([]byte, error) {
	pub, err := p.ToRSA()
	if err != nil {
		return nil, err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsa-oaep encrypt")
	}
	return out, nil
}

// IsZero reports whether this is the unset zero value.
func (p NetworkedPublicKey) IsZero() bool {
	return p.N == "" && p.E == ""
}

func (p NetworkedPublicKey) String() string {
	if len(p.N) < 10 {
		return p.N
	}
	return fmt.Sprintf("%s", p.N[:10])
}
