// Package source fetches the raw product catalog from the external GraphQL API.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/metrics"
	"github.com/cyderes/catalog-sync/internal/models"
)

// Client issues the catalog query. It never returns an error to its
// caller: any failure is logged and yields an empty result.
type Client struct {
	config     config.SourceConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

// NewClient creates a new source client
func NewClient(cfg config.SourceConfig, log logrus.FieldLogger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:     log.WithField("component", "source"),
	}
}

// Query returns the GraphQL document sent on every fetch. The page size is
// fixed: items past the first page are never requested.
func (c *Client) Query() string {
	return fmt.Sprintf(`query GetProductsByCateId {
	products(
		filter: {
			static: {
				categories: [%s],
				province_id: %d,
				stock: { from: 0 },
				stock_available_id: [46, 56, 152, 4920],
				filter_price: { from: 0, to: 100000000 }
			},
			dynamic: {}
		},
		page: 1,
		size: %d,
		sort: [{ %s: desc }]
	)
	{
		general { product_id name attributes sku url_path categories { categoryId name uri } },
		filterable { price special_price thumbnail }
	}
}`, strconv.Quote(c.config.Category), c.config.ProvinceID, c.config.PageSize, c.config.SortField)
}

// Fetch performs one request and returns the raw catalog items, or an empty
// slice on any transport, status or payload error.
func (c *Client) Fetch(ctx context.Context) []models.RawRecord {
	items, err := c.fetchOnce(ctx)
	if err != nil {
		metrics.RecordFetch(false)
		c.log.WithError(err).Warn("Catalog fetch failed, no data this run")
		return []models.RawRecord{}
	}
	metrics.RecordFetch(true)
	c.log.WithField("items", len(items)).Info("Catalog fetched")
	return items
}

// fetchOnce performs a single fetch attempt
func (c *Client) fetchOnce(ctx context.Context) ([]models.RawRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     c.Query(),
		"variables": map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return parseProducts(body)
}

// parseProducts extracts data.products from a GraphQL response body.
func parseProducts(body []byte) ([]models.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to unmarshal response: invalid JSON")
	}

	products := gjson.GetBytes(body, "data.products")
	if !products.IsArray() {
		if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
			return nil, fmt.Errorf("API returned error: %s", msg.String())
		}
		return nil, fmt.Errorf("failed to unmarshal response: data.products is not an array")
	}

	items := make([]models.RawRecord, 0, len(products.Array()))
	for _, item := range products.Array() {
		if !item.IsObject() {
			continue
		}
		items = append(items, models.RawRecord(item.Raw))
	}
	return items, nil
}
