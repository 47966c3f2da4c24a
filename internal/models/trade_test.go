package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementDate(t *testing.T) {
	tr := PendingTrade{Date: "2026-08-21"}
	d, err := tr.SettlementDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-21", d.Format("2006-01-02"))

	// Submitted after the 15:00 cutoff: settles against the next calendar day.
	tr.IsAfter3pm = true
	d, err = tr.SettlementDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-22", d.Format("2006-01-02"))
}

func TestSettlementDateMonthRollover(t *testing.T) {
	tr := PendingTrade{Date: "2026-08-31", IsAfter3pm: true}
	d, err := tr.SettlementDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", d.Format("2006-01-02"))
}

func TestSettlementDateInvalid(t *testing.T) {
	tr := PendingTrade{Date: "31/08/2026"}
	_, err := tr.SettlementDate()
	assert.Error(t, err)
}

func TestNetAmountRateMode(t *testing.T) {
	tr := PendingTrade{Type: TradeBuy, Amount: 1000, FeeRate: 0.015, FeeMode: FeeModeRate}
	assert.InDelta(t, 985.0, tr.NetAmount(), 1e-9)

	// Zero fee rate passes the amount through untouched.
	tr.FeeRate = 0
	assert.InDelta(t, 1000.0, tr.NetAmount(), 1e-9)
}

func TestNetAmountFlatMode(t *testing.T) {
	tr := PendingTrade{Type: TradeBuy, Amount: 1000, FeeMode: FeeModeAmount, FeeValue: 12.5}
	assert.InDelta(t, 987.5, tr.NetAmount(), 1e-9)

	// A fee larger than the amount floors at zero rather than going negative.
	tr.FeeValue = 2000
	assert.Equal(t, 0.0, tr.NetAmount())
}

func TestSortKeyPrefersID(t *testing.T) {
	a := PendingTrade{ID: "id-1", FundCode: "000001"}
	assert.Equal(t, "id-1", a.SortKey())

	b := PendingTrade{FundCode: "000001", Type: TradeBuy, Amount: 100, Date: "2026-08-21", Timestamp: 5}
	c := b
	assert.Equal(t, b.SortKey(), c.SortKey())

	c.Amount = 200
	assert.NotEqual(t, b.SortKey(), c.SortKey())
}

func TestValidTradeType(t *testing.T) {
	assert.True(t, ValidTradeType(TradeBuy))
	assert.True(t, ValidTradeType(TradeSell))
	assert.False(t, ValidTradeType(""))
	assert.False(t, ValidTradeType("transfer"))
}

func TestValidFundCode(t *testing.T) {
	assert.True(t, ValidFundCode("000001"))
	assert.True(t, ValidFundCode("161725"))
	assert.False(t, ValidFundCode(""))
	assert.False(t, ValidFundCode("00001"))
	assert.False(t, ValidFundCode("0000012"))
	assert.False(t, ValidFundCode("00000a"))
}

func TestGroupValidate(t *testing.T) {
	assert.NoError(t, Group{ID: "g1", Name: "养老基金"}.Validate())
	assert.Error(t, Group{Name: "a"}.Validate())
	assert.Error(t, Group{ID: "g1"}.Validate())
	assert.Error(t, Group{ID: "g1", Name: "123456789"}.Validate())
	// 8 runes exactly is allowed, multibyte included.
	assert.NoError(t, Group{ID: "g1", Name: "一二三四五六七八"}.Validate())
}

func TestSettleable(t *testing.T) {
	var nv *NetValue
	assert.False(t, nv.Settleable())
	assert.False(t, (&NetValue{Value: 0}).Settleable())
	assert.False(t, (&NetValue{Value: -1}).Settleable())
	assert.True(t, (&NetValue{Value: 1.234, Date: time.Now().Format("2006-01-02")}).Settleable())
}
