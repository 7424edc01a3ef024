// Package wallet wraps mnemonic generation and key derivation behind a small
// collaborator contract. The custody engine only ever sees the derived
// address, the raw private key bytes and the phrase words.
package wallet

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	bip39 "github.com/tyler-smith/go-bip39"
)

// DefaultEntropyBits matches the upstream wallet SDK default (12 words).
const DefaultEntropyBits = 128

// ErrInvalidMnemonic indicates the supplied phrase is not a valid BIP-39
// mnemonic for any wallet, not just the wrong one.
var ErrInvalidMnemonic = errors.New("not a valid bip39 mnemonic")

// Account is the derivation result handed to the custody flows.
type Account struct {
	Address    string
	PrivateKey []byte
}

// Deriver produces wallets from fresh entropy or an existing phrase.
type Deriver interface {
	// Generate returns a new mnemonic phrase with the given entropy size.
	Generate(entropyBits int) (string, error)
	// Derive deterministically derives the account for a phrase.
	Derive(phrase string) (*Account, error)
}

type deriver struct {
	seedPassword string
}

// NewDeriver builds the default BIP-39/secp256k1 deriver. seedPassword is the
// fixed passphrase mixed into seed derivation; it must never change once
// users exist, or recovery stops reproducing stored addresses.
func NewDeriver(seedPassword string) Deriver {
	return &deriver{seedPassword: seedPassword}
}

func (d *deriver) Generate(entropyBits int) (string, error) {
	if entropyBits == 0 {
		entropyBits = DefaultEntropyBits
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("build mnemonic: %w", err)
	}

	return mnemonic, nil
}

func (d *deriver) Derive(phrase string) (*Account, error) {
	phrase = strings.TrimSpace(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(phrase, d.seedPassword)

	// PrivKeyFromBytes reduces the scalar modulo the curve order, so any
	// 32-byte slice yields a usable key.
	priv := secp256k1.PrivKeyFromBytes(seed[:32])

	return &Account{
		Address:    AddressFromPubKey(priv.PubKey().SerializeCompressed()),
		PrivateKey: priv.Serialize(),
	}, nil
}

// c32 alphabet: Crockford base32 as used by Stacks-style addresses.
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// AddressFromPubKey derives a mainnet-style address from a serialized public
// key: SP prefix + c32 encoding of the truncated key hash and a 4-byte
// checksum.
func AddressFromPubKey(pubKey []byte) string {
	keyHash := sha256.Sum256(pubKey)
	payload := keyHash[:20]

	check := sha256.Sum256(payload)
	payload = append(payload, check[:4]...)

	return "SP" + c32Encode(payload)
}

func c32Encode(data []byte) string {
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, c32Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, c32Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return string(out)
}
