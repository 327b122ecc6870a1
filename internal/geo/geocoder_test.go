package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGeocoderResolveFirstResult(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "new york" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("expected limit=1, got %q", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"40.7128","lon":"-74.0060"},{"lat":"0","lon":"0"}]`))
	}))
	defer upstream.Close()

	geocoder := NewGeocoder(upstream.URL, 2*time.Second)
	coords, err := geocoder.Resolve(context.Background(), "new york")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if coords.Lat != 40.7128 || coords.Lon != -74.0060 {
		t.Fatalf("unexpected coordinates %+v", coords)
	}
}

func TestGeocoderNoCandidates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	geocoder := NewGeocoder(upstream.URL, 2*time.Second)
	if _, err := geocoder.Resolve(context.Background(), "nowhere"); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
}

func TestGeocoderUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	geocoder := NewGeocoder(upstream.URL, 2*time.Second)
	_, err := geocoder.Resolve(context.Background(), "anywhere")
	if err == nil || errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
