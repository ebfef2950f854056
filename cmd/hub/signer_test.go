package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestNewKeySignerRejectsBadKey(t *testing.T) {
	if _, err := NewKeySigner("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := NewKeySigner(base64.StdEncoding.EncodeToString([]byte("too-short"))); err == nil {
		t.Fatal("expected error for wrong-length key")
	}
}

func TestKeySignerSignRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeySigner(base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	wantAddr := base64.StdEncoding.EncodeToString(pub)
	if signer.Address() != wantAddr {
		t.Fatalf("address = %s, want %s", signer.Address(), wantAddr)
	}

	var hash [32]byte
	copy(hash[:], "some-unit-hash-to-sign-over-32b")

	def, err := signer.Definition(context.Background(), signer.Address())
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	if def == nil || def.Op != "sig" {
		t.Fatalf("definition = %+v, want op=sig", def)
	}

	sig, err := signer.Sign(context.Background(), signer.Address(), hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !ed25519.Verify(pub, hash[:], sig) {
		t.Fatal("signature does not verify against the public key")
	}
}

func TestKeySignerSignRejectsWrongAddress(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeySigner(base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	var hash [32]byte
	if _, err := signer.Sign(context.Background(), "some-other-address", hash); err == nil {
		t.Fatal("expected error signing for an address this signer doesn't own")
	}
}
