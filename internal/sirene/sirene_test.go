package sirene

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activeJSON = `{
  "header": {"statut": 200},
  "etablissement": {
    "siret": "73282932000074",
    "uniteLegale": {
      "denominationUniteLegale": "LE PETIT BAR",
      "categorieJuridiqueUniteLegale": "5710",
      "activitePrincipaleUniteLegale": "56.30Z"
    },
    "adresseEtablissement": {
      "numeroVoieEtablissement": "12",
      "typeVoieEtablissement": "RUE",
      "libelleVoieEtablissement": "DE LA PAIX",
      "codePostalEtablissement": "69001",
      "libelleCommuneEtablissement": "LYON"
    },
    "periodesEtablissement": [
      {"etatAdministratifEtablissement": "A"},
      {"etatAdministratifEtablissement": "F"}
    ]
  }
}`

func server(t *testing.T, status int, body string) *Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/siret/73282932000074", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "tok").WithHTTPClient(srv.Client())
}

func TestLookup_Active(t *testing.T) {
	c, err := server(t, http.StatusOK, activeJSON).Lookup(context.Background(), "73282932000074")
	require.NoError(t, err)
	assert.Equal(t, &Company{
		SIRET:      "73282932000074",
		Name:       "LE PETIT BAR",
		LegalForm:  "5710",
		NAF:        "56.30Z",
		Address:    "12 RUE DE LA PAIX",
		PostalCode: "69001",
		City:       "LYON",
		Active:     true,
	}, c)
}

func TestLookup_ClosedSoleTrader(t *testing.T) {
	body := `{"etablissement":{"siret":"73282932000074","uniteLegale":{"prenom1UniteLegale":"JEANNE","nomUniteLegale":"MARTIN"},"periodesEtablissement":[{"etatAdministratifEtablissement":"F"}]}}`
	c, err := server(t, http.StatusOK, body).Lookup(context.Background(), "73282932000074")
	require.NoError(t, err)
	assert.Equal(t, "JEANNE MARTIN", c.Name)
	assert.False(t, c.Active)
}

func TestLookup_NotFound(t *testing.T) {
	_, err := server(t, http.StatusNotFound, `{"header":{"statut":404}}`).Lookup(context.Background(), "73282932000074")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_ServerError(t *testing.T) {
	_, err := server(t, http.StatusServiceUnavailable, ``).Lookup(context.Background(), "73282932000074")
	assert.ErrorContains(t, err, "http 503")
}
