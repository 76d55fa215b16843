package auction

import (
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
)

// Winner selection. Auctions are reverse: agents sell labor, so the
// lowest bid wins. Pricing depends on the auction type:
//
//	DIRECT, SEALED_BID  first price — winner is paid their own bid
//	VICKREY             second price — winner is paid the lowest
//	                    strictly-higher amount among the other bids
//
// A Vickrey winner with no strictly-higher competitor (all remaining
// bids tie theirs, or theirs is the only bid) is paid their own amount.

// outcome is the result of resolving a set of revealed bids.
type outcome struct {
	Winner domain.Bid
	Price  decimal.Decimal
}

// repLookup returns an agent's current overall reputation, and whether
// one exists.
type repLookup func(agentID string) (float64, bool)

// resolve picks the winner and clearing price from candidate bids.
// Ties on amount break by higher reputation; a tie with no reputation
// on record for any tied agent breaks uniformly at random.
func resolve(bids []domain.Bid, auctionType domain.AuctionType, rep repLookup, rnd *rand.Rand) (outcome, error) {
	if len(bids) == 0 {
		return outcome{}, domain.ErrNoWinner
	}

	low := bids[0].Amount
	for _, b := range bids[1:] {
		if b.Amount.LessThan(low) {
			low = b.Amount
		}
	}

	var tied []domain.Bid
	for _, b := range bids {
		if b.Amount.Equal(low) {
			tied = append(tied, b)
		}
	}
	winner := breakTie(tied, rep, rnd)

	price := winner.Amount
	if auctionType == domain.AuctionVickrey {
		price = secondPrice(bids, winner)
	}
	return outcome{Winner: winner, Price: price}, nil
}

// breakTie resolves equal-lowest bids. Reputation decides when at least
// one tied agent has a score on record; otherwise the pick is uniform
// over the tied set. The candidate order is fixed by bid ID first so the
// choice is reproducible for a given random seed.
func breakTie(tied []domain.Bid, rep repLookup, rnd *rand.Rand) domain.Bid {
	if len(tied) == 1 {
		return tied[0]
	}
	sort.Slice(tied, func(i, j int) bool { return tied[i].ID < tied[j].ID })

	best := -1
	bestScore := -1.0
	for i, b := range tied {
		score, ok := rep(b.AgentID)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return tied[best]
	}
	return tied[rnd.Intn(len(tied))]
}

// secondPrice returns the lowest amount strictly above the winner's,
// across all other bids. Amounts equal to the winner's do not count:
// with bids of 250, 250 and 300, the 250 winner clears at 300.
func secondPrice(bids []domain.Bid, winner domain.Bid) decimal.Decimal {
	price := winner.Amount
	found := false
	for _, b := range bids {
		if b.ID == winner.ID || !b.Amount.GreaterThan(winner.Amount) {
			continue
		}
		if !found || b.Amount.LessThan(price) {
			price = b.Amount
			found = true
		}
	}
	return price
}
