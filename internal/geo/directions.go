package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const directionsURL = "https://maps.googleapis.com/maps/api/directions/json"

// GoogleDirections is a Router backed by the Google Directions API.
type GoogleDirections struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewGoogleDirections(apiKey string) *GoogleDirections {
	return &GoogleDirections{
		APIKey:  apiKey,
		BaseURL: directionsURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GoogleDirections) Route(ctx context.Context, origin, destination Coordinate) (Leg, error) {
	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	q.Set("mode", "driving")
	q.Set("key", g.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Leg{}, err
	}

	res, err := g.Client.Do(req)
	if err != nil {
		return Leg{}, fmt.Errorf("directions request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Leg{}, fmt.Errorf("read directions response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Leg{}, fmt.Errorf("directions: http %d", res.StatusCode)
	}
	return parseDirections(body)
}

func parseDirections(body []byte) (Leg, error) {
	if !gjson.ValidBytes(body) {
		return Leg{}, fmt.Errorf("directions: malformed response")
	}
	if status := gjson.GetBytes(body, "status").String(); status != "OK" {
		return Leg{}, fmt.Errorf("directions: status %s", status)
	}

	leg := gjson.GetBytes(body, "routes.0.legs.0")
	duration := leg.Get("duration.value")
	distance := leg.Get("distance.value")
	if !duration.Exists() || !distance.Exists() {
		return Leg{}, fmt.Errorf("directions: no route")
	}

	return Leg{
		Duration: time.Duration(duration.Int()) * time.Second,
		Distance: Meters(distance.Float()),
	}, nil
}
