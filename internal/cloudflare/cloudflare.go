// Package cloudflare reads zone traffic from the Cloudflare GraphQL
// analytics API.
package cloudflare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/envie2sortir/envie2sortir/internal/metrics"
)

var ErrDisabled = errors.New("cloudflare: integration disabled")

const trafficQuery = `query ($zoneTag: string, $since: Date!, $until: Date!) {
  viewer {
    zones(filter: {zoneTag: $zoneTag}) {
      httpRequests1dGroups(limit: 366, filter: {date_geq: $since, date_leq: $until}, orderBy: [date_ASC]) {
        dimensions { date }
        sum { requests pageViews }
        uniq { uniques }
      }
    }
  }
}`

type DailyTraffic struct {
	Date      string `json:"date"`
	Requests  int64  `json:"requests"`
	PageViews int64  `json:"page_views"`
	Visitors  int64  `json:"unique_visitors"`
}

type Traffic struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Requests  int64          `json:"requests"`
	PageViews int64          `json:"page_views"`
	Visitors  int64          `json:"unique_visitors"`
	Days      []DailyTraffic `json:"days"`
}

type Client struct {
	endpoint string
	token    string
	zoneID   string
	http     *http.Client
}

func New(endpoint, token, zoneID string) *Client {
	return &Client{endpoint: endpoint, token: token, zoneID: zoneID, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Enabled() bool { return c != nil && c.token != "" && c.zoneID != "" }

// Traffic sums the daily groups between from and to (inclusive dates).
func (c *Client) Traffic(ctx context.Context, from, to time.Time) (*Traffic, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	t, err := c.traffic(ctx, from.Format(time.DateOnly), to.Format(time.DateOnly))
	metrics.IntegrationCall("cloudflare", err)
	return t, err
}

func (c *Client) traffic(ctx context.Context, since, until string) (*Traffic, error) {
	payload, err := json.Marshal(map[string]any{
		"query": trafficQuery,
		"variables": map[string]string{
			"zoneTag": c.zoneID,
			"since":   since,
			"until":   until,
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudflare: http %d", resp.StatusCode)
	}
	doc := gjson.ParseBytes(body)
	if errs := doc.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("cloudflare: %s", errs.Get("0.message").String())
	}

	out := &Traffic{From: since, To: until, Days: []DailyTraffic{}}
	for _, g := range doc.Get("data.viewer.zones.0.httpRequests1dGroups").Array() {
		day := DailyTraffic{
			Date:      g.Get("dimensions.date").String(),
			Requests:  g.Get("sum.requests").Int(),
			PageViews: g.Get("sum.pageViews").Int(),
			Visitors:  g.Get("uniq.uniques").Int(),
		}
		out.Requests += day.Requests
		out.PageViews += day.PageViews
		out.Visitors += day.Visitors
		out.Days = append(out.Days, day)
	}
	return out, nil
}
