// Package ranking orders bids by offer fitness. It is pure: no I/O, no
// mutation of inputs, output independent of arrival order.
package ranking

import (
	"sort"

	"github.com/example/courier-dispatch/internal/models"
)

const fastPickupBonus = 15.0

// BidScore judges one offer. It weighs the courier's trust, the promised
// ETA, the star rating and the asked amount; a fast-pickup commitment earns
// a flat bonus. Higher is better.
func BidScore(b models.Bid) float64 {
	etaScore := 100 - float64(b.ProposedEtaMin)*2
	if etaScore < 0 {
		etaScore = 0
	}
	score := b.TrustScore*0.3 + etaScore + b.Rating*10 - b.Amount*2
	if b.FastPickup {
		score += fastPickupBonus
	}
	return score
}

// RankBids returns a new slice ordered best-first. Equal scores fall back to
// the earlier submission, then to the lexicographically smaller bid id, so
// the ordering is a total order and re-ranking ranked output is a no-op.
func RankBids(bids []models.Bid) []models.Bid {
	out := make([]models.Bid, len(bids))
	copy(out, bids)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := BidScore(out[i]), BidScore(out[j])
		if si != sj {
			return si > sj
		}
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
