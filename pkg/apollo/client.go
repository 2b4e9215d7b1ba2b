// Package apollo provides a client for the Apollo.io people search and
// enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.apollo.io/api/v1"

// Client performs people lookups against the Apollo API.
type Client interface {
	// SearchPeople runs a keyword search and returns candidate people.
	SearchPeople(ctx context.Context, req SearchRequest) ([]Person, error)
	// MatchPerson resolves a single best match for a named person.
	MatchPerson(ctx context.Context, req MatchRequest) (*Person, error)
	// MatchByID resolves full contact details for a known Apollo person ID.
	MatchByID(ctx context.Context, id string) (*Person, error)
}

// SearchRequest is the request body for POST /mixed_people/api_search.
type SearchRequest struct {
	Keywords        string   `json:"q_keywords,omitempty"`
	PersonLocations []string `json:"person_locations,omitempty"`
	PerPage         int      `json:"per_page,omitempty"`
}

// MatchRequest is the request body for POST /people/match. Either ID or
// FirstName+LastName must be set.
type MatchRequest struct {
	ID               string `json:"id,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Domain           string `json:"domain,omitempty"`
	Email            string `json:"email,omitempty"`
	LinkedInURL      string `json:"linkedin_url,omitempty"`
}

// Person is a single person record from the Apollo API.
type Person struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Title        string        `json:"title"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"`
	HasEmail     bool          `json:"has_email"`
	LinkedInURL  string        `json:"linkedin_url"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	Organization *Organization `json:"organization"`
}

// PhoneNumber is one phone entry attached to a person.
type PhoneNumber struct {
	RawNumber string `json:"raw_number"`
}

// Organization is the employer attached to a person.
type Organization struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url"`
}

// OrgName returns the organization name, tolerating a nil organization.
func (p *Person) OrgName() string {
	if p.Organization == nil {
		return ""
	}
	return p.Organization.Name
}

// WebsiteURL returns the organization website, tolerating a nil organization.
func (p *Person) WebsiteURL() string {
	if p.Organization == nil {
		return ""
	}
	return p.Organization.WebsiteURL
}

type searchResponse struct {
	People []Person `json:"people"`
}

type matchResponse struct {
	Person *Person `json:"person"`
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

// WithRateLimit sets a client-wide request rate limit in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an Apollo API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchPeople(ctx context.Context, req SearchRequest) ([]Person, error) {
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	var resp searchResponse
	if err := c.post(ctx, "/mixed_people/api_search", req, &resp); err != nil {
		return nil, err
	}
	return resp.People, nil
}

func (c *httpClient) MatchPerson(ctx context.Context, req MatchRequest) (*Person, error) {
	var resp matchResponse
	if err := c.post(ctx, "/people/match", req, &resp); err != nil {
		return nil, err
	}
	return resp.Person, nil
}

func (c *httpClient) MatchByID(ctx context.Context, id string) (*Person, error) {
	return c.MatchPerson(ctx, MatchRequest{ID: id})
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "apollo: rate limit wait")
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "apollo: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "apollo: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "apollo: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "apollo: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("apollo: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "apollo: unmarshal response")
	}
	return nil
}
