package cloudflare

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTraffic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cf-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "zone-1", gjson.GetBytes(body, "variables.zoneTag").String())
		assert.Equal(t, "2025-05-01", gjson.GetBytes(body, "variables.since").String())
		assert.Equal(t, "2025-05-02", gjson.GetBytes(body, "variables.until").String())
		_, _ = w.Write([]byte(`{"data":{"viewer":{"zones":[{"httpRequests1dGroups":[
			{"dimensions":{"date":"2025-05-01"},"sum":{"requests":100,"pageViews":40},"uniq":{"uniques":12}},
			{"dimensions":{"date":"2025-05-02"},"sum":{"requests":50,"pageViews":20},"uniq":{"uniques":8}}
		]}]}},"errors":null}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "cf-token", "zone-1").WithHTTPClient(srv.Client())
	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := c.Traffic(context.Background(), from, from.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, int64(150), got.Requests)
	assert.Equal(t, int64(60), got.PageViews)
	assert.Equal(t, int64(20), got.Visitors)
	require.Len(t, got.Days, 2)
	assert.Equal(t, "2025-05-02", got.Days[1].Date)
}

func TestTraffic_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"zone not authorized"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "t", "z").WithHTTPClient(srv.Client())
	_, err := c.Traffic(context.Background(), time.Now(), time.Now())
	assert.ErrorContains(t, err, "zone not authorized")
}

func TestTraffic_Disabled(t *testing.T) {
	_, err := New("http://unused", "", "").Traffic(context.Background(), time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrDisabled)

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}
