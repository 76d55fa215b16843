// Package security provides the node's cryptographic identity. Each
// Agora node carries an Ed25519 keypair; anchor submissions to the
// external timestamping service are signed with it so the anchor
// provider can attribute roots to a node.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Keypair holds the node's Ed25519 identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// LoadOrCreateKeypair loads an existing keypair from disk, or generates
// a new one on first run. Keys are stored in dataDir/keys/.
func LoadOrCreateKeypair(dataDir string) (*Keypair, error) {
	keyDir := filepath.Join(dataDir, "keys")
	pubPath := filepath.Join(keyDir, "node.pub")
	privPath := filepath.Join(keyDir, "node.key")

	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)

	if pubErr == nil && privErr == nil {
		pub, err := hex.DecodeString(string(pubBytes))
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		priv, err := hex.DecodeString(string(privBytes))
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		return &Keypair{
			Public:  ed25519.PublicKey(pub),
			Private: ed25519.PrivateKey(priv),
		}, nil
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	return kp, nil
}

// PublicKeyHex returns the public key as a hex string (used as the node ID).
func (kp *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public)
}

// Sign signs a message with the node's private key.
func (kp *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// SignHex signs a message and returns the signature hex-encoded.
func (kp *Keypair) SignHex(message []byte) string {
	return hex.EncodeToString(kp.Sign(message))
}

// Verify checks a signature against a public key.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, message, signature)
}
