package models

import (
	"fmt"
	"time"
)

// TradeType distinguishes buys from sells.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// ValidTradeType reports whether t is a known trade type.
func ValidTradeType(t TradeType) bool {
	return t == TradeBuy || t == TradeSell
}

// FeeMode selects how a trade fee is expressed.
type FeeMode string

const (
	FeeModeRate   FeeMode = "rate"   // FeeRate fraction of the buy amount
	FeeModeAmount FeeMode = "amount" // FeeValue flat currency amount
)

// dateLayout is the calendar-date format used for trade and NAV dates.
const dateLayout = "2006-01-02"

// PendingTrade is a trade submitted before its settlement NAV was
// available. It is immutable once queued: the settlement engine retries it
// until a price appears, and it leaves the queue only on settlement success
// or explicit revocation.
type PendingTrade struct {
	ID        string    `json:"id"`
	FundCode  FundCode  `json:"fundCode"`
	Type      TradeType `json:"type"`
	Share     float64   `json:"share,omitempty"`  // sell quantity
	Amount    float64   `json:"amount,omitempty"` // buy amount, fees included
	FeeRate   float64   `json:"feeRate,omitempty"`
	FeeMode   FeeMode   `json:"feeMode,omitempty"`
	FeeValue  float64   `json:"feeValue,omitempty"`
	Date      string    `json:"date"` // requested settlement date, YYYY-MM-DD
	IsAfter3pm bool     `json:"isAfter3pm"`
	Timestamp int64     `json:"timestamp"` // submission time, unix millis
}

// SettlementDate returns the date whose NAV settles this trade. Trades
// submitted after the 15:00 cutoff settle against the next calendar day;
// the gateway maps non-trading days to the next published valuation.
func (t PendingTrade) SettlementDate() (time.Time, error) {
	d, err := time.Parse(dateLayout, t.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trade date '%s': %w", t.Date, err)
	}
	if t.IsAfter3pm {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

// NetAmount returns the buy amount with the fee deducted, i.e. the cash
// that actually purchases units.
func (t PendingTrade) NetAmount() float64 {
	switch t.FeeMode {
	case FeeModeAmount:
		net := t.Amount - t.FeeValue
		if net < 0 {
			return 0
		}
		return net
	default:
		rate := t.FeeRate
		if rate < 0 {
			rate = 0
		}
		return t.Amount * (1 - rate)
	}
}

// SortKey returns a stable ordering key: the trade id when present,
// otherwise a composite of every field so identical trades compare equal
// regardless of their position in the queue.
func (t PendingTrade) SortKey() string {
	if t.ID != "" {
		return t.ID
	}
	return fmt.Sprintf("%s|%s|%g|%g|%g|%s|%g|%s|%v|%d",
		t.FundCode, t.Type, t.Share, t.Amount, t.FeeRate, t.FeeMode, t.FeeValue, t.Date, t.IsAfter3pm, t.Timestamp)
}

// SettlementResult summarizes one settlement pass.
type SettlementResult struct {
	Resolved    int      `json:"resolved"`
	ResolvedIDs []string `json:"resolvedIds,omitempty"`
	Remaining   int      `json:"remaining"`
}
