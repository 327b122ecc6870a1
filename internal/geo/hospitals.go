package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultHospitalName = "Unnamed Hospital"

type Hospital struct {
	ID        int64   `json:"id,omitempty"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	// DistanceKm is derived per request from the query point, never stored.
	DistanceKm float64 `json:"distance"`
}

// HospitalIndex queries an Overpass-compatible facility index for hospitals
// within a radius of a point.
type HospitalIndex struct {
	endpoint string
	client   *http.Client
}

func NewHospitalIndex(endpoint string, timeout time.Duration) *HospitalIndex {
	return &HospitalIndex{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type overpassElement struct {
	Type   string  `json:"type"`
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

// SearchNearby returns hospitals within radiusM meters of center, ordered by
// ascending great-circle distance. Ties keep the upstream order. An empty
// result is not an error.
func (h *HospitalIndex) SearchNearby(ctx context.Context, center Coordinates, radiusM int) ([]Hospital, error) {
	query := fmt.Sprintf(`[out:json][timeout:10];
(
  node["amenity"="hospital"](around:%d,%f,%f);
  way["amenity"="hospital"](around:%d,%f,%f);
  relation["amenity"="hospital"](around:%d,%f,%f);
);
out center;`,
		radiusM, center.Lat, center.Lon,
		radiusM, center.Lat, center.Lon,
		radiusM, center.Lat, center.Lon,
	)

	form := url.Values{}
	form.Set("data", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facility index request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facility index status %d", resp.StatusCode)
	}

	var payload struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("facility index decode: %w", err)
	}

	hospitals := make([]Hospital, 0, len(payload.Elements))
	for _, element := range payload.Elements {
		hospital, ok := normalizeElement(element)
		if !ok {
			continue
		}
		hospital.DistanceKm = Distance(center, Coordinates{Lat: hospital.Latitude, Lon: hospital.Longitude}) / 1000
		hospitals = append(hospitals, hospital)
	}

	sort.SliceStable(hospitals, func(i, j int) bool {
		return hospitals[i].DistanceKm < hospitals[j].DistanceKm
	})
	return hospitals, nil
}

// normalizeElement flattens the upstream's heterogeneous records: nodes carry
// a point coordinate, ways and relations only a computed centroid.
func normalizeElement(element overpassElement) (Hospital, bool) {
	hospital := Hospital{ID: element.ID, Name: defaultHospitalName}

	switch {
	case element.Lat != 0 || element.Lon != 0:
		hospital.Latitude = element.Lat
		hospital.Longitude = element.Lon
	case element.Center != nil:
		hospital.Latitude = element.Center.Lat
		hospital.Longitude = element.Center.Lon
	default:
		return Hospital{}, false
	}

	if name := element.Tags["name"]; name != "" {
		hospital.Name = name
	}
	hospital.Address = buildAddress(element.Tags)
	return hospital, true
}

func buildAddress(tags map[string]string) string {
	if full := tags["addr:full"]; full != "" {
		return full
	}
	parts := make([]string, 0, 3)
	if street := tags["addr:street"]; street != "" {
		if number := tags["addr:housenumber"]; number != "" {
			street = number + " " + street
		}
		parts = append(parts, street)
	}
	if city := tags["addr:city"]; city != "" {
		parts = append(parts, city)
	}
	if postcode := tags["addr:postcode"]; postcode != "" {
		parts = append(parts, postcode)
	}
	return strings.Join(parts, ", ")
}
