package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// KeySigner implements compose.Signer over a single local ed25519
// keypair, the CLI-only counterpart to validate.Ed25519Verifier. The
// address is the base64 encoding of the public key: this codebase
// carries no address-derivation scheme of its own (§1 non-goal), so
// cmd/hub's signer and the address it signs for are simply the same
// base64 string.
type KeySigner struct {
	priv    ed25519.PrivateKey
	address string
}

// NewKeySigner derives a signer (and its address) from a base64-encoded
// ed25519 private key, the format config.Config.SigningKeyB64 carries.
func NewKeySigner(privB64 string) (*KeySigner, error) {
	raw, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("signer: decode signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeySigner{priv: priv, address: base64.StdEncoding.EncodeToString(pub)}, nil
}

// Address is the identity Sign produces signatures for.
func (s *KeySigner) Address() string { return s.address }

// Definition implements compose.Signer. It always returns the signing
// definition: each `send` invocation is a fresh process with no memory
// of whether a peer has already seen this address's definition, so
// re-announcing it every time is the conservative, if slightly
// redundant, choice for a one-shot CLI.
func (s *KeySigner) Definition(ctx context.Context, address string) (*entity.Definition, error) {
	if address != s.address {
		return nil, fmt.Errorf("signer: no key for address %s", address)
	}
	return &entity.Definition{
		Op:   "sig",
		Args: []any{base64.StdEncoding.EncodeToString(s.priv.Public().(ed25519.PublicKey))},
	}, nil
}

// Sign implements compose.Signer.
func (s *KeySigner) Sign(ctx context.Context, address string, hash [32]byte) ([]byte, error) {
	if address != s.address {
		return nil, fmt.Errorf("signer: no key for address %s", address)
	}
	return ed25519.Sign(s.priv, hash[:]), nil
}
