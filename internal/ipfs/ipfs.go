package ipfs

import (
	"context"
	"net/http"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/kpioracles/oracle-answerer/internal/retry"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
)

// Client talks to the HTTP RPC API of an IPFS node.
type Client struct {
	http   *resty.Client
	policy retry.Policy
}

func NewClient(endpoint string, policy retry.Policy) *Client {
	return &Client{
		http:   resty.New().SetBaseURL(endpoint),
		policy: policy,
	}
}

// FetchSpecification fetches and parses the document stored at cid.
// Malformed documents are not retried.
func (c *Client) FetchSpecification(ctx context.Context, cid string) (*specification.Specification, error) {
	return retry.Do(ctx, c.policy, "ipfs fetch "+cid, func(ctx context.Context) (*specification.Specification, error) {
		raw, err := c.post(ctx, "/api/v0/cat", cid)
		if err != nil {
			return nil, err
		}

		spec, err := specification.Parse(raw)
		if err != nil {
			return nil, retry.Permanent(err)
		}

		return spec, nil
	})
}

// ExportCAR returns the DAG rooted at cid as a CAR archive.
func (c *Client) ExportCAR(ctx context.Context, cid string) ([]byte, error) {
	return c.post(ctx, "/api/v0/dag/export", cid)
}

func (c *Client) post(ctx context.Context, path, cid string) ([]byte, error) {
	rsp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post(path)
	if err != nil {
		return nil, errors.Wrapf(err, "ipfs request %s", path)
	}

	if rsp.IsError() {
		return nil, errors.Errorf("ipfs request %s: unexpected status %d", path, rsp.StatusCode())
	}

	return rsp.Body(), nil
}

// Pinner uploads content from an IPFS node to web3.storage so that it
// outlives the node.
type Pinner struct {
	ipfs   *Client
	http   *resty.Client
	policy retry.Policy
}

func NewPinner(ipfs *Client, endpoint, apiKey string, policy retry.Policy) *Pinner {
	return &Pinner{
		ipfs:   ipfs,
		http:   resty.New().SetBaseURL(endpoint).SetAuthToken(apiKey),
		policy: policy,
	}
}

func (p *Pinner) Pin(ctx context.Context, cid string) error {
	_, err := retry.Do(ctx, p.policy, "web3.storage pin "+cid, func(ctx context.Context) (struct{}, error) {
		car, err := p.ipfs.ExportCAR(ctx, cid)
		if err != nil {
			return struct{}{}, err
		}

		rsp, err := p.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/vnd.ipld.car").
			SetBody(car).
			Post("/car")
		if err != nil {
			return struct{}{}, errors.Wrap(err, "web3.storage upload")
		}

		switch {
		case rsp.StatusCode() == http.StatusUnauthorized || rsp.StatusCode() == http.StatusForbidden:
			return struct{}{}, retry.Permanent(errors.Errorf("web3.storage rejected credentials: status %d", rsp.StatusCode()))
		case rsp.IsError():
			return struct{}{}, errors.Errorf("web3.storage upload: unexpected status %d", rsp.StatusCode())
		}

		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	logger.Debugf("pinned %s to web3.storage", cid)

	return nil
}
