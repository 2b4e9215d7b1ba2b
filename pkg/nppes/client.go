// Package nppes provides a client for the CMS National Provider Identifier
// registry API.
package nppes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scout/internal/resilience"
)

const (
	defaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"
	apiVersion     = "2.1"

	// MaxPageSize is the registry's hard per-request result cap.
	MaxPageSize = 200
	// MaxSkip is the registry's hard pagination ceiling; skip+limit beyond
	// this returns an error from the API.
	MaxSkip = 1000
)

// Client queries the NPPES registry.
type Client interface {
	Search(ctx context.Context, req SearchRequest) ([]Result, error)
	LookupNPI(ctx context.Context, npi string) (*Result, error)
}

// SearchRequest holds query parameters for a registry search.
type SearchRequest struct {
	City                string
	State               string
	TaxonomyDescription string
	Limit               int
	Skip                int
}

// Result is one raw provider entry as returned by the registry.
type Result struct {
	Number    string     `json:"number"`
	Basic     Basic      `json:"basic"`
	Addresses []Address  `json:"addresses"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Basic carries the provider's personal fields.
type Basic struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
}

// Address is one of the provider's registered addresses.
type Address struct {
	AddressPurpose  string `json:"address_purpose"` // "LOCATION" or "MAILING"
	Address1        string `json:"address_1"`
	Address2        string `json:"address_2"`
	City            string `json:"city"`
	State           string `json:"state"`
	PostalCode      string `json:"postal_code"`
	TelephoneNumber string `json:"telephone_number"`
	FaxNumber       string `json:"fax_number"`
}

// Endpoint is a structured messaging endpoint attached to a provider.
type Endpoint struct {
	EndpointType string `json:"endpointType"`
	Endpoint     string `json:"endpoint"`
}

type searchResponse struct {
	ResultCount int      `json:"result_count"`
	Results     []Result `json:"results"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for transient registry failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an NPPES registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search fetches one page of individual-provider results. Transient failures
// are retried; a malformed payload is not.
func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	limit := req.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	params := url.Values{}
	params.Set("version", apiVersion)
	params.Set("enumeration_type", "NPI-1")
	params.Set("limit", strconv.Itoa(limit))
	if req.City != "" {
		params.Set("city", req.City)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	if req.TaxonomyDescription != "" {
		params.Set("taxonomy_description", req.TaxonomyDescription)
	}
	if req.Skip > 0 {
		params.Set("skip", strconv.Itoa(req.Skip))
	}

	resp, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// LookupNPI fetches a single provider by its 10-digit identifier.
// Returns nil if the registry has no record for the NPI.
func (c *httpClient) LookupNPI(ctx context.Context, npi string) (*Result, error) {
	params := url.Values{}
	params.Set("version", apiVersion)
	params.Set("number", npi)

	resp, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

func (c *httpClient) get(ctx context.Context, params url.Values) (*searchResponse, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*searchResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "nppes: create request")
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "nppes: send request"), 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "nppes: read response"), 0)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("nppes: unexpected status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var result searchResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, eris.Wrap(err, "nppes: unmarshal response")
		}
		return &result, nil
	})
}
