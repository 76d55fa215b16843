package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agoralabs/agora/internal/domain"
)

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"` // hex
	Left bool   `json:"left"` // Sibling sits on the left of the running hash
}

// BatchAnchor collects every event appended since the last anchor,
// builds a Merkle tree over their hashes, publishes the root through
// the anchorer, and persists the anchor record. Ranges are contiguous
// and non-overlapping by construction: each batch starts at the
// previous anchor's ToSeq+1. Returns nil if there is nothing to anchor.
func (l *Log) BatchAnchor(ctx context.Context, anchorer domain.Anchorer) (*domain.MerkleAnchor, error) {
	last, err := l.db.LastAnchor()
	if err != nil {
		return nil, fmt.Errorf("read last anchor: %w", err)
	}
	fromSeq := uint64(1)
	if last != nil {
		fromSeq = last.ToSeq + 1
	}

	head, err := l.db.LastAuditEvent()
	if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	if head == nil || head.Seq < fromSeq {
		return nil, nil // Nothing new to anchor
	}
	toSeq := head.Seq

	events, err := l.db.AuditEventRange(fromSeq, toSeq)
	if err != nil {
		return nil, err
	}

	leaves, err := leafHashes(events)
	if err != nil {
		return nil, err
	}
	root := hex.EncodeToString(merkleRoot(leaves))

	ref, err := anchorer.Anchor(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("external anchor: %w", err)
	}

	anchor := domain.MerkleAnchor{
		ID:          uuid.NewString(),
		FromSeq:     fromSeq,
		ToSeq:       toSeq,
		Root:        root,
		ExternalRef: ref,
		AnchoredAt:  l.now().Truncate(time.Second),
	}
	if err := l.db.InsertAnchor(anchor); err != nil {
		return nil, fmt.Errorf("persist anchor: %w", err)
	}
	return &anchor, nil
}

// InclusionProof builds the sibling path for an event against the
// anchor covering its sequence number.
func (l *Log) InclusionProof(seq uint64) ([]ProofStep, *domain.MerkleAnchor, error) {
	anchor, err := l.db.AnchorCovering(seq)
	if err != nil {
		return nil, nil, err
	}
	if anchor == nil {
		return nil, nil, domain.ErrAnchorNotFound
	}

	events, err := l.db.AuditEventRange(anchor.FromSeq, anchor.ToSeq)
	if err != nil {
		return nil, nil, err
	}
	leaves, err := leafHashes(events)
	if err != nil {
		return nil, nil, err
	}

	proof := merkleProof(leaves, int(seq-anchor.FromSeq))
	return proof, anchor, nil
}

// VerifyInclusion recomputes the root from a leaf hash and its proof
// path and compares against the anchored root. Any altered bit in the
// leaf or path fails the check.
func VerifyInclusion(leafHash string, proof []ProofStep, rootHash string) (bool, error) {
	running, err := hex.DecodeString(leafHash)
	if err != nil {
		return false, fmt.Errorf("decode leaf: %w", err)
	}
	for _, step := range proof {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, fmt.Errorf("decode proof step: %w", err)
		}
		if step.Left {
			running = hashPair(sibling, running)
		} else {
			running = hashPair(running, sibling)
		}
	}
	want, err := hex.DecodeString(rootHash)
	if err != nil {
		return false, fmt.Errorf("decode root: %w", err)
	}
	return bytes.Equal(running, want), nil
}

// ─── Tree construction ──────────────────────────────────────────────────────
// Leaf = event currentHash; internal node = H(left ∥ right); a level
// with an odd node count duplicates its last node.

func leafHashes(events []domain.AuditEvent) ([][]byte, error) {
	leaves := make([][]byte, 0, len(events))
	for _, ev := range events {
		b, err := hex.DecodeString(ev.Hash)
		if err != nil {
			return nil, fmt.Errorf("event %d hash: %w", ev.Seq, err)
		}
		leaves = append(leaves, b)
	}
	return leaves, nil
}

func merkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return nil
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// merkleProof returns the sibling path for the leaf at index.
func merkleProof(leaves [][]byte, index int) []ProofStep {
	if index < 0 || index >= len(leaves) {
		return nil
	}
	var proof []ProofStep
	level := leaves
	for len(level) > 1 {
		sibIdx := index ^ 1
		if sibIdx >= len(level) {
			sibIdx = index // Odd level: the node is its own sibling
		}
		proof = append(proof, ProofStep{
			Hash: hex.EncodeToString(level[sibIdx]),
			Left: sibIdx < index,
		})
		level = nextLevel(level)
		index /= 2
	}
	return proof
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(level[i], right))
	}
	return next
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
