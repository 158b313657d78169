package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-riskmap/internal/ranking"
)

// Category identifies a risk layer's data set.
type Category string

const (
	CategoryCCTV        Category = "CCTV"
	CategoryPolice      Category = "POLICE"
	CategoryStreetLight Category = "STREET_LIGHT"
	CategoryBlindSpot   Category = "BLIND_SPOT"
	CategoryRefinedRisk Category = "REFINED_RISK"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryBlindSpot,
	CategoryRefinedRisk,
	CategoryCCTV,
	CategoryPolice,
	CategoryStreetLight,
}

// ParseCategory accepts the canonical upper-case names.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", eris.Errorf("backend: unknown category %q", s)
}

// Path returns the endpoint path and query for the category.
func (c Category) Path() (string, map[string]string) {
	switch c {
	case CategoryBlindSpot:
		return "/api/risks/blind-spots", nil
	case CategoryRefinedRisk:
		return "/api/risks/refined-risk", nil
	default:
		return "/api/risks", map[string]string{"type": string(c)}
	}
}

// Address is one reverse geocoding result.
type Address struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// IsParcel reports whether this is a lot-number address rather than a road address.
func (a Address) IsParcel() bool {
	return a.Type == "parcel"
}

// RiskPoint is a scored location returned by a risk endpoint. It is never
// modified after decoding.
type RiskPoint struct {
	Lon      float64  `json:"lon"`
	Lat      float64  `json:"lat"`
	Weight   float64  `json:"weight"`
	Type     string   `json:"type,omitempty"`
	Category Category `json:"category"`
}

// UnmarshalJSON accepts lon/longitude, lat/latitude and score/weight aliases.
func (p *RiskPoint) UnmarshalJSON(b []byte) error {
	var raw struct {
		Lon       *float64 `json:"lon"`
		Longitude *float64 `json:"longitude"`
		Lat       *float64 `json:"lat"`
		Latitude  *float64 `json:"latitude"`
		Score     *float64 `json:"score"`
		Weight    *float64 `json:"weight"`
		Type      string   `json:"type"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	lon, lat := first(raw.Lon, raw.Longitude), first(raw.Lat, raw.Latitude)
	if lon == nil || lat == nil {
		return eris.Errorf("backend: risk point without coordinates: %s", b)
	}
	p.Lon, p.Lat = *lon, *lat
	if w := first(raw.Score, raw.Weight); w != nil {
		p.Weight = *w
	}
	p.Type = raw.Type
	return nil
}

func first(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// SearchResult is the candidate list for a search query.
type SearchResult struct {
	Items     []ranking.Candidate
	FoundType string
	Query     string
}

// ClientConfig is the map configuration the backend hands to viewers.
type ClientConfig struct {
	VWorldKey string
	CenterLon float64
	CenterLat float64
}

// APIError is a logical or HTTP error reported by the backend.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (%d %s)", e.StatusCode, e.Status)
}

// envelope is the wrapper every backend endpoint responds with.
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Result    json.RawMessage `json:"result"`
	FoundType string          `json:"foundType"`
	Query     string          `json:"query"`
}

// payload returns the provider response carried in data. The backend sends it
// as a JSON string; a bare object is accepted as well.
func (e envelope) payload() ([]byte, bool, error) {
	d := bytes.TrimSpace(e.Data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return nil, false, nil
	}
	if d[0] != '"' {
		return d, true, nil
	}
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return nil, false, err
	}
	if s == "" {
		return nil, false, nil
	}
	return []byte(s), true, nil
}

type providerStatus struct {
	Status string `json:"status"`
	Record struct {
		Total flexString `json:"total"`
	} `json:"record"`
}

func (p providerStatus) notFound() bool {
	return p.Status == "NOT_FOUND" || p.Record.Total == "0"
}

type addressPayload struct {
	Response struct {
		providerStatus
		Result json.RawMessage `json:"result"`
	} `json:"response"`
}

type searchPayload struct {
	Response struct {
		providerStatus
		Result struct {
			Items []searchItem `json:"items"`
		} `json:"result"`
	} `json:"response"`
}

type searchItem struct {
	Title   string          `json:"title"`
	Address ranking.Address `json:"address"`
	Point   struct {
		X flexString `json:"x"`
		Y flexString `json:"y"`
	} `json:"point"`
}

func (it searchItem) candidate() ranking.Candidate {
	return ranking.Candidate{
		Title:   it.Title,
		Address: it.Address,
		Point:   ranking.Point{X: string(it.Point.X), Y: string(it.Point.Y)},
	}
}

// flexString decodes either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// decodeAddresses normalizes a single object or an array into a slice.
func decodeAddresses(raw json.RawMessage) ([]Address, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []Address
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one Address
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []Address{one}, nil
}
