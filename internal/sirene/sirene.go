// Package sirene looks up French establishments in the INSEE Sirene registry.
package sirene

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/envie2sortir/envie2sortir/internal/metrics"
)

var ErrNotFound = errors.New("sirene: siret not found")

// Company is the registry view of one establishment (SIRET).
type Company struct {
	SIRET      string `json:"siret"`
	Name       string `json:"name"`
	LegalForm  string `json:"legal_form"`
	NAF        string `json:"naf"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Active     bool   `json:"active"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 8 * time.Second},
	}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Lookup(ctx context.Context, siret string) (*Company, error) {
	company, err := c.lookup(ctx, siret)
	if errors.Is(err, ErrNotFound) {
		metrics.IntegrationCall("sirene", nil)
	} else {
		metrics.IntegrationCall("sirene", err)
	}
	return company, err
}

func (c *Client) lookup(ctx context.Context, siret string) (*Company, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/siret/"+siret, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sirene: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("sirene: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseCompany(gjson.GetBytes(body, "etablissement")), nil
}

func parseCompany(e gjson.Result) *Company {
	unit := e.Get("uniteLegale")
	name := unit.Get("denominationUniteLegale").String()
	if name == "" {
		name = strings.TrimSpace(unit.Get("prenom1UniteLegale").String() + " " + unit.Get("nomUniteLegale").String())
	}
	addr := e.Get("adresseEtablissement")
	street := strings.Join(nonEmpty(
		addr.Get("numeroVoieEtablissement").String(),
		addr.Get("typeVoieEtablissement").String(),
		addr.Get("libelleVoieEtablissement").String(),
	), " ")

	// The current period comes first.
	state := e.Get("periodesEtablissement.0.etatAdministratifEtablissement").String()
	if state == "" {
		state = e.Get("etatAdministratifEtablissement").String()
	}
	return &Company{
		SIRET:      e.Get("siret").String(),
		Name:       name,
		LegalForm:  unit.Get("categorieJuridiqueUniteLegale").String(),
		NAF:        unit.Get("activitePrincipaleUniteLegale").String(),
		Address:    street,
		PostalCode: addr.Get("codePostalEtablissement").String(),
		City:       addr.Get("libelleCommuneEtablissement").String(),
		Active:     state == "A",
	}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
