package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultNominatimURL is the public OpenStreetMap search endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// Nominatim geocodes through an OpenStreetMap Nominatim server.
type Nominatim struct {
	BaseURL   string
	UserAgent string

	HTTPClient *http.Client
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode implements Geocoder. An empty result list is a miss.
func (n *Nominatim) Geocode(ctx context.Context, address string) (*Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("geocode: empty address")
	}
	base := n.BaseURL
	if base == "" {
		base = DefaultNominatimURL
	}
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	ua := n.UserAgent
	if ua == "" {
		ua = "yelpetl"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := n.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geocode: nominatim status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: longitude %q: %w", results[0].Lon, err)
	}
	return &Point{Latitude: lat, Longitude: lng}, nil
}

func (n *Nominatim) httpClient() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
