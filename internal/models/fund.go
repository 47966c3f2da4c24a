// Package models defines data structures for Fundwatch
package models

import (
	"encoding/json"
	"time"
)

// FundCode is the 6-digit fund identifier used as the universal key across
// holdings, groups, favorites, and pending trades.
type FundCode = string

// ValidFundCode reports whether code is a 6-digit fund code.
func ValidFundCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FundSnapshot is the latest known valuation for a tracked fund.
// NetValue is the official per-unit NAV for NetValueDate; EstValue is the
// intraday estimate (gsz) published before the official close value.
type FundSnapshot struct {
	Code         FundCode  `json:"code"`
	Name         string    `json:"name"`
	NetValue     float64   `json:"netValue"`
	NetValueDate string    `json:"netValueDate"` // YYYY-MM-DD
	EstValue     float64   `json:"estValue,omitempty"`
	EstGrowthPct float64   `json:"estGrowthPct,omitempty"`
	EstTime      string    `json:"estTime,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// UnmarshalJSON accepts either a full snapshot object or a bare fund code
// string. Canonical payloads reduce funds to their codes, so a document
// that round-tripped through canonicalization must still decode; the
// valuation fields refill on the next refresh.
func (f *FundSnapshot) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var code string
		if err := json.Unmarshal(data, &code); err != nil {
			return err
		}
		*f = FundSnapshot{Code: code}
		return nil
	}
	type plain FundSnapshot
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = FundSnapshot(p)
	return nil
}

// NetValue is a dated per-unit valuation returned by the gateway.
type NetValue struct {
	Value float64 `json:"value"`
	Date  string  `json:"date"` // YYYY-MM-DD
}

// Settleable reports whether the valuation can settle a trade.
// A nil, zero, or negative value means "not yet available", not an error.
func (n *NetValue) Settleable() bool {
	return n != nil && n.Value > 0
}
