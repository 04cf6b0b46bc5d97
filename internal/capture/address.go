package capture

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
)

type AddressInput struct {
	Line1 string `json:"address_1"`
	Line2 string `json:"address_2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zipcode"`
}

func (a AddressInput) String() string {
	parts := []string{}
	for _, p := range []string{a.Line1, a.Line2, a.City, strings.TrimSpace(a.State + " " + a.Zip)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ValidatedAddress is a standardized address. Coordinate is nil when the
// provider does not geocode.
type ValidatedAddress struct {
	Formatted  string          `json:"standardized_address"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
	Provider   string          `json:"provider"`
}

// Location converts the result into what SetLocation expects.
func (v ValidatedAddress) Location() domain.Location {
	return domain.Location{Address: v.Formatted, Coordinate: v.Coordinate}
}

type AddressValidator interface {
	Name() string
	ValidateAddress(ctx context.Context, in AddressInput) (ValidatedAddress, error)
}

// AddressChain tries validators in order. A chain is itself a validator,
// so chains nest.
type AddressChain []AddressValidator

var _ AddressValidator = AddressChain(nil)

func (c AddressChain) Name() string {
	names := make([]string, len(c))
	for i, v := range c {
		names[i] = v.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c AddressChain) ValidateAddress(ctx context.Context, in AddressInput) (ValidatedAddress, error) {
	if strings.TrimSpace(in.String()) == "" {
		return ValidatedAddress{}, &CaptureError{Op: "validate address", Err: fmt.Errorf("address: %w", ErrEmptyInput)}
	}
	return firstSuccess(ctx, "validate address", []AddressValidator(c),
		AddressValidator.Name,
		func(ctx context.Context, v AddressValidator) (ValidatedAddress, error) {
			return v.ValidateAddress(ctx, in)
		})
}

// ---- Google Geocoding ----

const geocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

type GoogleGeocoder struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{
		APIKey:  apiKey,
		BaseURL: geocodeURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GoogleGeocoder) Name() string { return "google" }

func (g *GoogleGeocoder) ValidateAddress(ctx context.Context, in AddressInput) (ValidatedAddress, error) {
	q := url.Values{}
	q.Set("address", in.String())
	q.Set("key", g.APIKey)

	body, err := get(ctx, g.Client, g.BaseURL+"?"+q.Encode())
	if err != nil {
		return ValidatedAddress{}, err
	}
	return parseGeocode(body)
}

func parseGeocode(body []byte) (ValidatedAddress, error) {
	if !gjson.ValidBytes(body) {
		return ValidatedAddress{}, fmt.Errorf("geocode: malformed response")
	}
	switch status := gjson.GetBytes(body, "status").String(); status {
	case "OK":
	case "ZERO_RESULTS":
		return ValidatedAddress{}, ErrNoMatch
	default:
		return ValidatedAddress{}, fmt.Errorf("geocode: status %s", status)
	}

	first := gjson.GetBytes(body, "results.0")
	formatted := first.Get("formatted_address").String()
	if formatted == "" {
		return ValidatedAddress{}, ErrNoMatch
	}
	out := ValidatedAddress{Formatted: formatted, Provider: "google"}

	lat, lng := first.Get("geometry.location.lat"), first.Get("geometry.location.lng")
	if lat.Exists() && lng.Exists() {
		c := geo.Coordinate{Lat: lat.Float(), Lng: lng.Float()}
		if c.Validate() == nil {
			out.Coordinate = &c
		}
	}
	return out, nil
}

// ---- USPS address verification ----

const uspsURL = "https://secure.shippingapis.com/ShippingAPI.dll"

// USPSVerifier standardizes US addresses. It does not geocode.
type USPSVerifier struct {
	UserID  string
	BaseURL string
	Client  *http.Client
}

func NewUSPSVerifier(userID string) *USPSVerifier {
	return &USPSVerifier{
		UserID:  userID,
		BaseURL: uspsURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (u *USPSVerifier) Name() string { return "usps" }

type uspsAddress struct {
	ID       string `xml:"ID,attr"`
	Address1 string `xml:"Address1"`
	Address2 string `xml:"Address2"`
	City     string `xml:"City"`
	State    string `xml:"State"`
	Zip5     string `xml:"Zip5"`
	Zip4     string `xml:"Zip4"`
	Error    *struct {
		Description string `xml:"Description"`
	} `xml:"Error"`
}

type uspsRequest struct {
	XMLName  xml.Name    `xml:"AddressValidateRequest"`
	UserID   string      `xml:"USERID,attr"`
	Revision int         `xml:"Revision"`
	Address  uspsAddress `xml:"Address"`
}

type uspsResponse struct {
	XMLName xml.Name      `xml:"AddressValidateResponse"`
	Address []uspsAddress `xml:"Address"`
}

func (u *USPSVerifier) ValidateAddress(ctx context.Context, in AddressInput) (ValidatedAddress, error) {
	// USPS swaps the line meaning: Address2 is the street line
	reqBody, err := xml.Marshal(uspsRequest{
		UserID:   u.UserID,
		Revision: 1,
		Address: uspsAddress{
			ID:       "0",
			Address1: in.Line2,
			Address2: in.Line1,
			City:     in.City,
			State:    in.State,
			Zip5:     in.Zip,
		},
	})
	if err != nil {
		return ValidatedAddress{}, err
	}

	q := url.Values{}
	q.Set("API", "Verify")
	q.Set("XML", string(reqBody))
	body, err := get(ctx, u.Client, u.BaseURL+"?"+q.Encode())
	if err != nil {
		return ValidatedAddress{}, err
	}
	return parseUSPS(body)
}

func parseUSPS(body []byte) (ValidatedAddress, error) {
	var res uspsResponse
	if err := xml.Unmarshal(body, &res); err != nil {
		return ValidatedAddress{}, fmt.Errorf("usps: %w", err)
	}
	if len(res.Address) == 0 {
		return ValidatedAddress{}, ErrNoMatch
	}
	a := res.Address[0]
	if a.Error != nil {
		return ValidatedAddress{}, fmt.Errorf("%w: %s", ErrNoMatch, strings.TrimSpace(a.Error.Description))
	}

	zip := a.Zip5
	if a.Zip4 != "" {
		zip += "-" + a.Zip4
	}
	std := AddressInput{Line1: a.Address2, Line2: a.Address1, City: a.City, State: a.State, Zip: zip}
	return ValidatedAddress{Formatted: std.String(), Provider: "usps"}, nil
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", res.StatusCode)
	}
	return body, nil
}
