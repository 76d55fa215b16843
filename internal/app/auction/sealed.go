package auction

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/pbkdf2"

	"github.com/agoralabs/agora/internal/domain"
)

// Bid confidentiality for sealed auction types. Amounts are encrypted
// with AES-256-GCM under a key derived from the task identifier via
// PBKDF2, with a fresh random nonce per bid. The commitment
// SHA-256(amount ∥ nonce) lets an agent prove the amount was fixed
// before the deadline without revealing it.
//
// LIMITATION: the derivation input is the task ID, which the platform
// knows, so the operator can decrypt before the deadline. This keeps
// bids confidential against other bidders and casual inspection only.
// A hostile-operator threat model needs per-auction asymmetric keys
// (agent-held private keys) or commit-reveal without server custody.

const (
	sealedKDFIterations = 210_000
	sealedKeyLen        = 32
)

var sealedSalt = []byte("agora.sealed-bid.v1")

// sealKey derives the per-auction symmetric key. PBKDF2's cost makes
// the derivation constant-time with respect to the task ID content.
func sealKey(taskID string) []byte {
	return pbkdf2.Key([]byte(taskID), sealedSalt, sealedKDFIterations, sealedKeyLen, sha256.New)
}

// sealBid encrypts a bid amount for the given task.
func sealBid(taskID string, amount decimal.Decimal) (*domain.SealedBid, error) {
	block, err := aes.NewCipher(sealKey(taskID))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	plaintext := []byte(amount.String())
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(taskID))

	commit := sha256.Sum256(append(append([]byte{}, plaintext...), nonce...))

	return &domain.SealedBid{
		Ciphertext: hex.EncodeToString(ciphertext),
		Nonce:      hex.EncodeToString(nonce),
		Commitment: hex.EncodeToString(commit[:]),
	}, nil
}

// openBid decrypts a sealed bid, verifying the GCM authentication tag
// and the commitment. A tag or commitment mismatch is a hard
// domain.ErrIntegrityViolation — never a soft fallback.
func openBid(taskID string, sealed *domain.SealedBid) (decimal.Decimal, error) {
	ciphertext, err := hex.DecodeString(sealed.Ciphertext)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed ciphertext", domain.ErrIntegrityViolation)
	}
	nonce, err := hex.DecodeString(sealed.Nonce)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed nonce", domain.ErrIntegrityViolation)
	}

	block, err := aes.NewCipher(sealKey(taskID))
	if err != nil {
		return decimal.Zero, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return decimal.Zero, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(taskID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: authentication failed", domain.ErrIntegrityViolation)
	}

	commit := sha256.Sum256(append(append([]byte{}, plaintext...), nonce...))
	if hex.EncodeToString(commit[:]) != sealed.Commitment {
		return decimal.Zero, fmt.Errorf("%w: commitment mismatch", domain.ErrIntegrityViolation)
	}

	amount, err := decimal.NewFromString(string(plaintext))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: non-numeric plaintext", domain.ErrIntegrityViolation)
	}
	return amount, nil
}

// VerifyCommitment checks an agent's claim that amount was the sealed
// value, using the revealed nonce. Used for post-hoc audits of
// suspected front-running.
func VerifyCommitment(amount decimal.Decimal, nonceHex, commitment string) bool {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(append(append([]byte{}, []byte(amount.String())...), nonce...))
	return hex.EncodeToString(sum[:]) == commitment
}
