package auction

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
)

func TestSealRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("437.50")

	sealed, err := sealBid("task-1", amount)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed.Ciphertext == "" || sealed.Nonce == "" || sealed.Commitment == "" {
		t.Fatalf("incomplete sealed bid: %+v", sealed)
	}

	got, err := openBid("task-1", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !got.Equal(amount) {
		t.Fatalf("got %s, want %s", got, amount)
	}
}

func TestSealWrongTaskFailsClosed(t *testing.T) {
	sealed, err := sealBid("task-1", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := openBid("task-2", sealed); !errors.Is(err, domain.ErrIntegrityViolation) {
		t.Fatalf("want ErrIntegrityViolation, got %v", err)
	}
}

func TestSealTamperedCiphertext(t *testing.T) {
	sealed, err := sealBid("task-1", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// Flip one hex digit.
	b := []byte(sealed.Ciphertext)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	sealed.Ciphertext = string(b)

	if _, err := openBid("task-1", sealed); !errors.Is(err, domain.ErrIntegrityViolation) {
		t.Fatalf("want ErrIntegrityViolation, got %v", err)
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	amount := decimal.NewFromInt(100)
	a, err := sealBid("task-1", amount)
	if err != nil {
		t.Fatal(err)
	}
	b, err := sealBid("task-1", amount)
	if err != nil {
		t.Fatal(err)
	}
	if a.Nonce == b.Nonce {
		t.Fatal("two seals reused a nonce")
	}
	if a.Ciphertext == b.Ciphertext {
		t.Fatal("identical ciphertexts leak amount equality")
	}
}

func TestVerifyCommitment(t *testing.T) {
	amount := decimal.RequireFromString("250")
	sealed, err := sealBid("task-1", amount)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyCommitment(amount, sealed.Nonce, sealed.Commitment) {
		t.Fatal("genuine commitment rejected")
	}
	if VerifyCommitment(decimal.NewFromInt(251), sealed.Nonce, sealed.Commitment) {
		t.Fatal("wrong amount accepted")
	}
}
