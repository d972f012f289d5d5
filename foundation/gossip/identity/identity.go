// Package identity provides the signing and verification capability for
// the simulation. Every participant owns a secp256k1 keypair and is known
// to the rest of the network by the address derived from its public key.
package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// ID represents the public identifier of an identity. It is the hex-encoded
// address derived from the identity's public key.
type ID string

// ToID converts a hex-encoded string to an ID and validates the hex-encoded
// string is formatted correctly.
func ToID(hex string) (ID, error) {
	id := ID(hex)
	if !id.IsID() {
		return "", errors.New("invalid identity format")
	}

	return id, nil
}

// PublicKeyToID converts the public key to an ID value.
func PublicKeyToID(pk ecdsa.PublicKey) ID {
	return ID(crypto.PubkeyToAddress(pk).String())
}

// IsID verifies whether the underlying data represents a valid hex-encoded
// address.
func (id ID) IsID() bool {
	const addressLength = 20

	if has0xPrefix(id) {
		id = id[2:]
	}

	return len(id) == 2*addressLength && isHex(id)
}

// =============================================================================

// Identity holds the keypair for one participant and provides the signing
// operation used to mint block ids.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	id         ID
}

// New generates a fresh keypair and constructs an identity from it.
func New() (*Identity, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return FromECDSA(privateKey), nil
}

// FromECDSA constructs an identity from an existing private key, such as
// one loaded from an .ecdsa account file.
func FromECDSA(privateKey *ecdsa.PrivateKey) *Identity {
	return &Identity{
		privateKey: privateKey,
		id:         PublicKeyToID(privateKey.PublicKey),
	}
}

// ID returns the public identifier for this identity.
func (idn *Identity) ID() ID {
	return idn.id
}

// Sign signs the specified 32 byte hash with the identity's private key and
// returns the hex-encoded 65 byte recoverable signature. The signature is
// what block ids are made of.
func (idn *Identity) Sign(hash []byte) (string, error) {
	sig, err := crypto.Sign(hash, idn.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing hash: %w", err)
	}

	// Check the signature recovers to our own public key before handing
	// it out.
	publicKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("recovering public key: %w", err)
	}
	if PublicKeyToID(*publicKey) != idn.id {
		return "", errors.New("invalid signature")
	}

	return hexutil.Encode(sig), nil
}

// =============================================================================

// Verify reports whether the hex-encoded signature was produced over the
// specified hash by the identity with the specified id. There is no copy of
// the public key on the verifying side; it is recovered from the hash and
// signature and compared by address.
func Verify(id ID, sigHex string, hash []byte) bool {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return false
	}
	if len(sig) != crypto.SignatureLength {
		return false
	}

	publicKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}

	return PublicKeyToID(*publicKey) == id
}

// Hash returns the hex-encoded sha256 hash of the specified data. Block
// contents are hashed with this before signing so signatures are always
// produced over a fixed 32 bytes.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// HashBytes returns the raw 32 byte sha256 hash of the specified data.
func HashBytes(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// =============================================================================

// has0xPrefix validates the id starts with a 0x.
func has0xPrefix(id ID) bool {
	return len(id) >= 2 && id[0] == '0' && (id[1] == 'x' || id[1] == 'X')
}

// isHex validates whether each byte is a valid hexadecimal string.
func isHex(id ID) bool {
	if len(id)%2 != 0 {
		return false
	}

	for _, c := range []byte(id) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
