// Package narrative produces an optional natural-language explanation for a
// dispatch decision. It is strictly cosmetic: a missing or failed narration
// must never change which bid won or whether fallback is required.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/courier-dispatch/internal/models"
)

// Narrator explains a decision given the bids that competed in the round.
type Narrator interface {
	Narrate(ctx context.Context, d models.DispatchDecision, bids []models.Bid) (string, error)
}

// buildPrompt summarizes the round for the model. Only data the decision was
// actually based on goes in; the model cannot introduce new facts.
func buildPrompt(d models.DispatchDecision, bids []models.Bid) string {
	var b strings.Builder
	b.WriteString("You are the dispatch assistant of a courier platform. ")
	b.WriteString("Write one short paragraph, plain text, explaining the outcome below to an operations analyst. ")
	b.WriteString("Do not invent numbers that are not listed.\n\n")
	fmt.Fprintf(&b, "Order: %s\n", d.OrderID)
	if d.SelectedBid != nil {
		w := d.SelectedBid
		fmt.Fprintf(&b, "Winner: courier %s (%s), distance %.1f km, asked %.2f, promised ETA %d min, rating %.1f, trust %.0f, fast pickup %v\n",
			w.CourierID, w.Vehicle, w.DistanceKm, w.Amount, w.ProposedEtaMin, w.Rating, w.TrustScore, w.FastPickup)
	} else {
		b.WriteString("Winner: none, fallback required\n")
	}
	fmt.Fprintf(&b, "Competing bids: %d\n", len(bids))
	for _, bid := range bids {
		if d.SelectedBid != nil && bid.ID == d.SelectedBid.ID {
			continue
		}
		fmt.Fprintf(&b, "- courier %s (%s): asked %.2f, ETA %d min, rating %.1f, trust %.0f\n",
			bid.CourierID, bid.Vehicle, bid.Amount, bid.ProposedEtaMin, bid.Rating, bid.TrustScore)
	}
	return b.String()
}
