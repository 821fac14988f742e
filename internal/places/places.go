// Package places is a small Google Places (legacy web service) client used
// to enrich establishments.
package places

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/envie2sortir/envie2sortir/internal/metrics"
)

var ErrNotFound = errors.New("places: no match")

const detailFields = "place_id,name,formatted_address,formatted_phone_number,international_phone_number,website,geometry/location,rating,user_ratings_total,price_level,types,opening_hours"

// Period is one weekly opening slot; Day follows time.Weekday.
type Period struct {
	Day    int
	Opens  string
	Closes string
}

type Details struct {
	PlaceID     string
	Name        string
	Address     string
	Phone       string
	Website     string
	Latitude    *float64
	Longitude   *float64
	Rating      *float64
	ReviewCount int
	// PriceLevel is Google's 0..4 scale, -1 when absent.
	PriceLevel int
	Types      []string
	Periods    []Period
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IntegrationCall("places", err)
		return gjson.Result{}, fmt.Errorf("places: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("places: http %d", resp.StatusCode)
		metrics.IntegrationCall("places", err)
		return gjson.Result{}, err
	}
	doc := gjson.ParseBytes(body)
	switch status := doc.Get("status").String(); status {
	case "OK":
		metrics.IntegrationCall("places", nil)
		return doc, nil
	case "ZERO_RESULTS", "NOT_FOUND":
		metrics.IntegrationCall("places", nil)
		return gjson.Result{}, ErrNotFound
	default:
		err = fmt.Errorf("places: status %s: %s", status, doc.Get("error_message").String())
		metrics.IntegrationCall("places", err)
		return gjson.Result{}, err
	}
}

// FindPlace returns the place id best matching a free-text query such as
// "Le Petit Bar 12 rue X Lyon".
func (c *Client) FindPlace(ctx context.Context, query string) (string, error) {
	doc, err := c.get(ctx, "/findplacefromtext/json", url.Values{
		"input":     {query},
		"inputtype": {"textquery"},
		"fields":    {"place_id"},
	})
	if err != nil {
		return "", err
	}
	id := doc.Get("candidates.0.place_id").String()
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (c *Client) Details(ctx context.Context, placeID string) (*Details, error) {
	doc, err := c.get(ctx, "/details/json", url.Values{
		"place_id": {placeID},
		"fields":   {detailFields},
		"language": {"fr"},
	})
	if err != nil {
		return nil, err
	}
	return parseDetails(doc.Get("result")), nil
}

func parseDetails(r gjson.Result) *Details {
	d := &Details{
		PlaceID:     r.Get("place_id").String(),
		Name:        r.Get("name").String(),
		Address:     r.Get("formatted_address").String(),
		Phone:       r.Get("international_phone_number").String(),
		Website:     r.Get("website").String(),
		ReviewCount: int(r.Get("user_ratings_total").Int()),
		PriceLevel:  -1,
	}
	if d.Phone == "" {
		d.Phone = r.Get("formatted_phone_number").String()
	}
	if loc := r.Get("geometry.location"); loc.Exists() {
		lat, lng := loc.Get("lat").Float(), loc.Get("lng").Float()
		d.Latitude, d.Longitude = &lat, &lng
	}
	if v := r.Get("rating"); v.Exists() {
		rating := v.Float()
		d.Rating = &rating
	}
	if v := r.Get("price_level"); v.Exists() {
		d.PriceLevel = int(v.Int())
	}
	for _, t := range r.Get("types").Array() {
		d.Types = append(d.Types, t.String())
	}
	for _, p := range r.Get("opening_hours.periods").Array() {
		opens := p.Get("open.time").String()
		closes := p.Get("close.time").String()
		if !p.Get("close").Exists() && opens == "0000" {
			// Open around the clock: Google sends a single period without close.
			for day := 0; day < 7; day++ {
				d.Periods = append(d.Periods, Period{Day: day, Opens: "00:00", Closes: "00:00"})
			}
			break
		}
		d.Periods = append(d.Periods, Period{
			Day:    int(p.Get("open.day").Int()),
			Opens:  clock(opens),
			Closes: clock(closes),
		})
	}
	return d
}

// clock turns Google's "HHMM" into "HH:MM".
func clock(s string) string {
	if len(s) != 4 {
		return ""
	}
	return s[:2] + ":" + s[2:]
}
