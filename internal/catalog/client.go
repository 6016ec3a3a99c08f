// Package catalog reads product snapshots from the product service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/storefront-cart/internal/domain"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/httpclient"
	"github.com/utafrali/storefront-cart/pkg/slug"
)

const maxProductBytes = 1 << 20

// HTTPDoer is satisfied by httpclient.Client and httpclient.CircuitBreakerClient.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CircuitOpenFallback answers product lookups while the breaker is open.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("product catalog is temporarily unavailable, please retry shortly")
}

// productResponse is the product document served by the catalog.
type productResponse struct {
	ID           string        `json:"_id"`
	Name         string        `json:"name"`
	Slug         string        `json:"slug"`
	Image        string        `json:"image"`
	Price        domain.Amount `json:"price"`
	OfferPrice   domain.Amount `json:"offerPrice"`
	CountInStock int           `json:"countInStock"`
}

// Client looks up products by id.
type Client struct {
	http    HTTPDoer
	baseURL string
}

// NewClient creates a client for the product service at baseURL.
func NewClient(doer HTTPDoer, baseURL string) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Product fetches the current snapshot of product id, including live stock.
// A missing product is reported as apperrors.ErrNotFound; an unreachable
// catalog as apperrors.ErrServiceUnavail.
func (c *Client) Product(ctx context.Context, id string) (domain.Product, error) {
	endpoint := c.baseURL + "/api/products/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return domain.Product{}, fmt.Errorf("call product service: %w", err)
		}
		return domain.Product{}, apperrors.New("SERVICE_UNAVAILABLE", "product catalog is unavailable",
			http.StatusServiceUnavailable, fmt.Errorf("call product service: %w: %w", apperrors.ErrServiceUnavail, err))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Product{}, httpclient.ParseResponseError(resp, "product")
	}
	defer resp.Body.Close()

	var body productResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProductBytes)).Decode(&body); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	if body.ID == "" {
		body.ID = id
	}
	if body.Slug == "" {
		body.Slug = slug.Generate(body.Name)
	}

	p := domain.Product{
		ID:           body.ID,
		Name:         body.Name,
		Slug:         body.Slug,
		Image:        body.Image,
		Price:        body.Price,
		OfferPrice:   body.OfferPrice,
		CountInStock: body.CountInStock,
	}
	if err := p.Validate(); err != nil {
		return domain.Product{}, fmt.Errorf("product service returned invalid product %s: %w", id, err)
	}
	return p, nil
}
