package models

// Holding is a per-fund position: share count and weighted-average
// acquisition cost per unit. A holding with zero share carries no cost
// basis; ApplySell resets cost when the position closes out.
type Holding struct {
	Share float64 `json:"share"`
	Cost  float64 `json:"cost"`
}

// ApplyBuy blends shareDelta units bought at unitPrice into the holding,
// recomputing cost as the share-weighted average acquisition price.
// Caller must validate shareDelta > 0 and unitPrice > 0.
func (h Holding) ApplyBuy(shareDelta, unitPrice float64) Holding {
	newShare := h.Share + shareDelta
	if newShare <= 0 {
		return Holding{}
	}
	newCost := (h.Cost*h.Share + shareDelta*unitPrice) / newShare
	return Holding{Share: newShare, Cost: newCost}
}

// ApplySell reduces share by shareDelta, clamping at zero. Cost is
// unchanged while any share remains and resets to zero when the position
// closes. The second return value is the excess quantity discarded by the
// clamp (zero when the sell fits within the held share count).
func (h Holding) ApplySell(shareDelta float64) (Holding, float64) {
	excess := 0.0
	newShare := h.Share - shareDelta
	if newShare < 0 {
		excess = -newShare
		newShare = 0
	}
	newCost := h.Cost
	if newShare == 0 {
		newCost = 0
	}
	return Holding{Share: newShare, Cost: newCost}, excess
}

// IsEmpty reports whether the holding carries neither share nor cost.
// Empty holdings are removed from the ledger on full liquidation.
func (h Holding) IsEmpty() bool {
	return h.Share == 0 && h.Cost == 0
}

// MarketValue returns the holding's value at the given unit price.
func (h Holding) MarketValue(unitPrice float64) float64 {
	return h.Share * unitPrice
}
