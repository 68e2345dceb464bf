package defillama

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrDataUnavailable is returned when the feed has no data point at or past
// the requested time yet.
var ErrDataUnavailable = errors.New("tvl data not yet available")

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

type tvlPoint struct {
	Date              int64   `json:"date"`
	TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
}

type protocolResponse struct {
	Name string     `json:"name"`
	TVL  []tvlPoint `json:"tvl"`
}

func NewClient(endpoint string, requestsPerSecond float64, timeout time.Duration) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		http:    resty.New().SetBaseURL(endpoint).SetTimeout(timeout),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// protocol returns nil without error when DefiLlama does not know the slug.
func (c *Client) protocol(ctx context.Context, slug string) (*protocolResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result := new(protocolResponse)
	rsp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("protocol", slug).
		SetResult(result).
		Get("/protocol/{protocol}")
	if err != nil {
		return nil, errors.Wrapf(err, "defillama protocol %s", slug)
	}

	switch {
	case rsp.StatusCode() == http.StatusNotFound || rsp.StatusCode() == http.StatusBadRequest:
		return nil, nil
	case rsp.IsError():
		return nil, errors.Errorf("defillama protocol %s: unexpected status %d", slug, rsp.StatusCode())
	}

	return result, nil
}

func (c *Client) HasTVL(ctx context.Context, protocol string) (bool, error) {
	p, err := c.protocol(ctx, protocol)
	if err != nil {
		return false, err
	}

	return p != nil && len(p.TVL) > 0, nil
}

// TVLAt returns the protocol TVL in whole USD as of the last data point not
// after at.
func (c *Client) TVLAt(ctx context.Context, protocol string, at time.Time) (*big.Int, error) {
	p, err := c.protocol(ctx, protocol)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Errorf("defillama protocol %s not found", protocol)
	}

	return pointAt(p.TVL, at.Unix())
}

func pointAt(points []tvlPoint, at int64) (*big.Int, error) {
	if len(points) == 0 || points[len(points)-1].Date < at {
		return nil, ErrDataUnavailable
	}

	var selected *tvlPoint
	for i := range points {
		if points[i].Date > at {
			break
		}
		selected = &points[i]
	}
	if selected == nil {
		return nil, errors.Errorf("no tvl data before %d", at)
	}

	value, _ := big.NewFloat(selected.TotalLiquidityUSD).Int(nil)

	return value, nil
}
