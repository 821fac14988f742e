package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailsJSON = `{
  "status": "OK",
  "result": {
    "place_id": "ChIJ123",
    "name": "Le Petit Bar",
    "formatted_address": "12 Rue de la Paix, 69001 Lyon, France",
    "international_phone_number": "+33 4 78 00 00 00",
    "website": "https://lepetitbar.fr",
    "geometry": {"location": {"lat": 45.767, "lng": 4.834}},
    "rating": 4.6,
    "user_ratings_total": 213,
    "price_level": 2,
    "types": ["bar", "restaurant", "point_of_interest"],
    "opening_hours": {"periods": [
      {"open": {"day": 5, "time": "1800"}, "close": {"day": 6, "time": "0200"}},
      {"open": {"day": 6, "time": "1130"}, "close": {"day": 6, "time": "1430"}}
    ]}
  }
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key").WithHTTPClient(srv.Client())
}

func TestFindPlace(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/findplacefromtext/json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "Le Petit Bar Lyon", r.URL.Query().Get("input"))
		_, _ = w.Write([]byte(`{"status":"OK","candidates":[{"place_id":"ChIJ123"}]}`))
	})
	id, err := c.FindPlace(context.Background(), "Le Petit Bar Lyon")
	require.NoError(t, err)
	assert.Equal(t, "ChIJ123", id)
}

func TestFindPlace_ZeroResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","candidates":[]}`))
	})
	_, err := c.FindPlace(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/details/json", r.URL.Path)
		assert.Equal(t, "ChIJ123", r.URL.Query().Get("place_id"))
		_, _ = w.Write([]byte(detailsJSON))
	})
	d, err := c.Details(context.Background(), "ChIJ123")
	require.NoError(t, err)

	assert.Equal(t, "Le Petit Bar", d.Name)
	assert.Equal(t, "+33 4 78 00 00 00", d.Phone)
	require.NotNil(t, d.Latitude)
	assert.InDelta(t, 45.767, *d.Latitude, 1e-9)
	require.NotNil(t, d.Rating)
	assert.InDelta(t, 4.6, *d.Rating, 1e-9)
	assert.Equal(t, 213, d.ReviewCount)
	assert.Equal(t, 2, d.PriceLevel)
	assert.Equal(t, []string{"bar", "restaurant", "point_of_interest"}, d.Types)
	assert.Equal(t, []Period{
		{Day: 5, Opens: "18:00", Closes: "02:00"},
		{Day: 6, Opens: "11:30", Closes: "14:30"},
	}, d.Periods)
}

func TestDetails_AlwaysOpen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","result":{"name":"24/7","opening_hours":{"periods":[{"open":{"day":0,"time":"0000"}}]}}}`))
	})
	d, err := c.Details(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, d.Periods, 7)
	assert.Equal(t, -1, d.PriceLevel)
	assert.Nil(t, d.Rating)
}

func TestErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
	})
	_, err := c.Details(context.Background(), "x")
	assert.ErrorContains(t, err, "REQUEST_DENIED")

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.FindPlace(context.Background(), "x")
	assert.ErrorContains(t, err, "http 502")
}
