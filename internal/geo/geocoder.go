package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var ErrLocationNotFound = errors.New("location not found")

// Geocoder resolves a free-text place name to coordinates via a
// Nominatim-compatible endpoint. Callers that already have coordinates
// should not come here.
type Geocoder struct {
	baseURL string
	client  *http.Client
}

func NewGeocoder(baseURL string, timeout time.Duration) *Geocoder {
	return &Geocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *Geocoder) Resolve(ctx context.Context, place string) (Coordinates, error) {
	query := url.Values{}
	query.Set("q", place)
	query.Set("format", "json")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return Coordinates{}, err
	}
	req.Header.Set("User-Agent", "symptomcheck/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocoder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, fmt.Errorf("geocoder decode: %w", err)
	}
	if len(results) == 0 {
		return Coordinates{}, ErrLocationNotFound
	}

	// Highest confidence candidate comes first.
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocoder lat: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocoder lon: %w", err)
	}
	return Coordinates{Lat: lat, Lon: lon}, nil
}
