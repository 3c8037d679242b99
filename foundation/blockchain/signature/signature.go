// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0000000000000000000000000000000000000000000000000000000000000000"

// Set of error variables for key handling.
var (
	ErrInvalidKey = errors.New("invalid key")
	ErrVerifyOnly = errors.New("key pair has no private key")
)

// =============================================================================

// KeyPair represents a secp256k1 key pair. A key pair imported from a public
// key alone can only be used to verify signatures.
type KeyPair struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey
}

// GenKeyPair constructs a key pair in one of three modes. With no inputs a
// fresh random pair is generated. With a private key the pair is imported and
// the public key derived. With only a public key a verify-only pair is built.
func GenKeyPair(privateHex string, publicHex string) (KeyPair, error) {
	privateHex = strip(privateHex)
	publicHex = strip(publicHex)

	switch {
	case privateHex == "" && publicHex == "":
		pk, err := crypto.GenerateKey()
		if err != nil {
			return KeyPair{}, fmt.Errorf("generate key: %w", err)
		}
		return KeyPair{private: pk, public: &pk.PublicKey}, nil

	case privateHex != "":
		pk, err := crypto.HexToECDSA(privateHex)
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: private: %w", ErrInvalidKey, err)
		}

		kp := KeyPair{private: pk, public: &pk.PublicKey}
		if publicHex != "" && !strings.EqualFold(publicHex, kp.Address()) {
			return KeyPair{}, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
		}
		return kp, nil
	}

	pub, err := decodePublic(publicHex)
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{public: pub}, nil
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(pk *ecdsa.PrivateKey) KeyPair {
	return KeyPair{private: pk, public: &pk.PublicKey}
}

// Address returns the hex encoding of the uncompressed public key. The
// address is how other nodes refer to this key pair.
func (kp KeyPair) Address() string {
	if kp.public == nil {
		return ""
	}
	return hex.EncodeToString(crypto.FromECDSAPub(kp.public))
}

// PrivateKey returns the underlying private key or nil for a verify-only pair.
func (kp KeyPair) PrivateKey() *ecdsa.PrivateKey {
	return kp.private
}

// CanSign reports whether the pair holds a private key.
func (kp KeyPair) CanSign() bool {
	return kp.private != nil
}

// Sign signs the 32 byte digest and returns the hex encoded 65 byte
// [R|S|V] signature.
func (kp KeyPair) Sign(digest []byte) (string, error) {
	if kp.private == nil {
		return "", ErrVerifyOnly
	}

	sig, err := crypto.Sign(digest, kp.private)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return hex.EncodeToString(sig), nil
}

// =============================================================================

// Hash returns a unique string for the value. The value is serialized with
// encoding/json, which writes struct fields in declaration order and sorts
// map keys, so equal values produce equal hashes on every node.
func Hash(value any) string {
	return hex.EncodeToString(Digest(value))
}

// Digest returns the raw sha256 digest of the value's canonical encoding.
func Digest(value any) []byte {
	data, err := json.Marshal(value)
	if err != nil {
		zero := make([]byte, sha256.Size)
		return zero
	}

	hash := sha256.Sum256(data)
	return hash[:]
}

// SizeOf estimates the serialized size of the value in bytes.
func SizeOf(value any) int {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}

// VerifySignature checks the hex signature was produced over the digest by
// the owner of the hex public key.
func VerifySignature(publicHex string, signatureHex string, digest []byte) bool {
	pub, err := decodePublic(strip(publicHex))
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(strip(signatureHex))
	if err != nil || len(sig) < crypto.RecoveryIDOffset {
		return false
	}

	return crypto.VerifySignature(crypto.FromECDSAPub(pub), digest, sig[:crypto.RecoveryIDOffset])
}

// =============================================================================

func decodePublic(publicHex string) (*ecdsa.PublicKey, error) {
	data, err := hex.DecodeString(publicHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public: %w", ErrInvalidKey, err)
	}

	pub, err := crypto.UnmarshalPubkey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: public: %w", ErrInvalidKey, err)
	}

	return pub, nil
}

func strip(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
