// Package search talks to the Yelp Fusion business search endpoint and
// walks its offset pagination for one work unit.
package search

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

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

// DefaultBaseURL is the Fusion search path.
const DefaultBaseURL = "https://api.yelp.com/v3/businesses/search"

// Query is one page request.
type Query struct {
	Term      string
	Latitude  float64
	Longitude float64
	Radius    int
	Limit     int
	Offset    int
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("term", q.Term)
	v.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	v.Set("radius", strconv.Itoa(q.Radius))
	v.Set("is_closed", "false")
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	return v
}

// Page is the decoded search response.
type Page struct {
	Businesses []business.Raw `json:"businesses"`
	Total      int            `json:"total"`
}

// Searcher issues a single page request.
type Searcher interface {
	Search(ctx context.Context, q Query) (Page, error)
}

// Client calls the Fusion search API with a bearer API key.
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// Search performs exactly one request; it never retries.
func (c *Client) Search(ctx context.Context, q Query) (Page, error) {
	if c.APIKey == "" {
		return Page{}, fmt.Errorf("search: api key required: %w", internalerr.ErrInvalidConfig)
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.values().Encode(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Page{}, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, statusError(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, &HardError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", internalerr.ErrMalformedResponse, err)}
	}
	return page, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
