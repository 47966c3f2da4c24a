// Package eastmoney provides a client for the Eastmoney fund valuation API
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" || s == "--" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultEstimateBaseURL = "https://fundgz.1234567.com.cn"
	DefaultHistoryBaseURL  = "https://api.fund.eastmoney.com"
	DefaultTimeout         = 30 * time.Second
	DefaultRateLimit       = 10 // requests per second

	dateLayout = "2006-01-02"
)

// historyPageSize bounds the NAV window fetched per settlement lookup.
// Valuations publish within a day or two; twenty rows covers holidays.
const historyPageSize = 20

// Client implements the ValuationGateway interface
type Client struct {
	estimateBaseURL string
	historyBaseURL  string
	httpClient      *http.Client
	logger          *common.Logger
	limiter         *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithEstimateBaseURL sets the intraday estimate endpoint base URL
func WithEstimateBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.estimateBaseURL = baseURL
	}
}

// WithHistoryBaseURL sets the historical NAV endpoint base URL
func WithHistoryBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.historyBaseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Eastmoney client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		estimateBaseURL: DefaultEstimateBaseURL,
		historyBaseURL:  DefaultHistoryBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Eastmoney API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request and returns the raw body.
func (c *Client) get(ctx context.Context, reqURL, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// The history endpoint rejects requests without a fund page referer.
	req.Header.Set("Referer", "https://fundf10.eastmoney.com/")

	c.logger.Debug().Str("endpoint", endpoint).Msg("Eastmoney API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   endpoint,
		}
	}

	return body, nil
}

// estimateResponse is the jsonp payload from the intraday estimate feed.
type estimateResponse struct {
	FundCode string      `json:"fundcode"`
	Name     string      `json:"name"`
	NAVDate  string      `json:"jzrq"`
	NAV      flexFloat64 `json:"dwjz"`
	Est      flexFloat64 `json:"gsz"`
	EstPct   flexFloat64 `json:"gszzl"`
	EstTime  string      `json:"gztime"`
}

// FetchFund retrieves the current snapshot for a fund: the latest official
// NAV and the intraday estimate when one is published.
func (c *Client) FetchFund(ctx context.Context, code string) (*models.FundSnapshot, error) {
	if !models.ValidFundCode(code) {
		return nil, fmt.Errorf("invalid fund code '%s'", code)
	}

	reqURL := fmt.Sprintf("%s/js/%s.js?rt=%d", c.estimateBaseURL, code, time.Now().UnixMilli())
	body, err := c.get(ctx, reqURL, "/js/"+code)
	if err != nil {
		return nil, err
	}

	payload, err := stripJSONP(body)
	if err != nil {
		return nil, fmt.Errorf("fund %s: %w", code, err)
	}

	var est estimateResponse
	if err := json.Unmarshal(payload, &est); err != nil {
		return nil, fmt.Errorf("failed to decode fund %s: %w", code, err)
	}
	if est.FundCode == "" {
		return nil, fmt.Errorf("fund %s not found", code)
	}

	return &models.FundSnapshot{
		Code:         est.FundCode,
		Name:         est.Name,
		NetValue:     float64(est.NAV),
		NetValueDate: est.NAVDate,
		EstValue:     float64(est.Est),
		EstGrowthPct: float64(est.EstPct),
		EstTime:      est.EstTime,
		FetchedAt:    time.Now(),
	}, nil
}

// historyResponse is the envelope of the historical NAV endpoint.
type historyResponse struct {
	Data struct {
		List []historyRow `json:"LSJZList"`
	} `json:"Data"`
	ErrCode int    `json:"ErrCode"`
	ErrMsg  string `json:"ErrMsg"`
}

type historyRow struct {
	Date string      `json:"FSRQ"`
	NAV  flexFloat64 `json:"DWJZ"`
}

// FetchNetValueOn returns the first published NAV dated on or after the
// given date, which is the valuation that settles a trade requested for
// that date (non-trading days roll forward to the next published row).
// Returns nil when no such valuation exists yet.
func (c *Client) FetchNetValueOn(ctx context.Context, code string, date time.Time) (*models.NetValue, error) {
	if !models.ValidFundCode(code) {
		return nil, fmt.Errorf("invalid fund code '%s'", code)
	}

	params := url.Values{}
	params.Set("fundCode", code)
	params.Set("pageIndex", "1")
	params.Set("pageSize", strconv.Itoa(historyPageSize))

	reqURL := fmt.Sprintf("%s/f10/lsjz?%s", c.historyBaseURL, params.Encode())
	body, err := c.get(ctx, reqURL, "/f10/lsjz")
	if err != nil {
		return nil, err
	}

	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", code, err)
	}
	if hist.ErrCode != 0 {
		return nil, fmt.Errorf("history query for %s failed: %s", code, hist.ErrMsg)
	}

	target := date.Format(dateLayout)

	// Rows arrive newest first. Walk from the oldest up to find the
	// earliest valuation on or after the target date.
	rows := hist.Data.List
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.Date >= target && row.NAV > 0 {
			return &models.NetValue{Value: float64(row.NAV), Date: row.Date}, nil
		}
	}

	// Not yet published: transient, not an error.
	return nil, nil
}

// stripJSONP unwraps `jsonpgz({...});` into the inner JSON document.
func stripJSONP(body []byte) ([]byte, error) {
	s := strings.TrimSpace(string(body))
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open < 0 || end <= open {
		return nil, fmt.Errorf("malformed jsonp response")
	}
	return []byte(s[open+1 : end]), nil
}
