package validate

import (
	"crypto/ed25519"
	"encoding/base64"
)

// Verifier checks one authentifier against one "sig" leaf's public key.
// Kept as a narrow interface so tests can stub it without real keys.
type Verifier interface {
	Verify(pubKeyB64 string, hash [32]byte, sigB64 string) bool
}

// Ed25519Verifier is the default Verifier: standard crypto primitives
// behind a thin adapter rather than a bespoke signature scheme.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(pubKeyB64 string, hash [32]byte, sigB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), hash[:], sig)
}
