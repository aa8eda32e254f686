package aptos

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Account is a loaded ed25519 signing key plus its on-chain address.
type Account struct {
	priv    ed25519.PrivateKey
	address string
}

// LoadAccount builds an account from a hex-encoded 32-byte private
// key seed. When addressOverride is empty, the address is derived
// from the public key as sha3-256(pubkey || 0x00). Rotated accounts
// keep their original address, so an explicit override wins.
func LoadAccount(privateKeyHex, addressOverride string) (*Account, error) {
	seedHex := strings.TrimPrefix(privateKeyHex, "0x")
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)

	address := addressOverride
	if address == "" {
		pub := priv.Public().(ed25519.PublicKey)
		h := sha3.New256()
		h.Write(pub)
		h.Write([]byte{0x00}) // single-key ed25519 scheme
		address = "0x" + hex.EncodeToString(h.Sum(nil))
	}

	return &Account{priv: priv, address: address}, nil
}

func (a *Account) Address() string {
	return a.address
}

func (a *Account) PublicKey() []byte {
	return a.priv.Public().(ed25519.PublicKey)
}

func (a *Account) Sign(message []byte) []byte {
	return ed25519.Sign(a.priv, message)
}
