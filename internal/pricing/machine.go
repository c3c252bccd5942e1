package pricing

import "github.com/stockline-erp/stockline/internal/shared"

// bonTransitions is the voucher state machine. A voucher takes prices
// only while pending; ready_for_sale is terminal.
var bonTransitions = map[BonStatus][]BonStatus{
	BonStatusPending:      {BonStatusReadyForSale},
	BonStatusReadyForSale: {},
}

// CanTransitionBon reports whether the voucher may move between the
// given statuses.
func CanTransitionBon(from, to BonStatus) bool {
	for _, allowed := range bonTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// guardBonPricing rejects price changes once the voucher left pending.
func guardBonPricing(bon Bon) error {
	if !CanTransitionBon(bon.Status, BonStatusReadyForSale) {
		return shared.Guardf(TransitionSetPrice, string(bon.Status), "bon %s is %s, prices are fixed", bon.ID, bon.Status)
	}
	return nil
}
