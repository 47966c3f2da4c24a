package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/fundwatch/internal/models"
)

// ValuationGateway supplies fund valuations. A nil NetValue with a nil
// error means the valuation is not yet published: transient, not an
// error; the settlement engine retries on the next cycle.
type ValuationGateway interface {
	// FetchFund returns the current snapshot (official NAV plus intraday
	// estimate) for a fund code.
	FetchFund(ctx context.Context, code string) (*models.FundSnapshot, error)

	// FetchNetValueOn returns the NAV that settles a trade dated `date`:
	// the first published valuation on or after that date, or nil when
	// none exists yet.
	FetchNetValueOn(ctx context.Context, code string, date time.Time) (*models.NetValue, error)
}
