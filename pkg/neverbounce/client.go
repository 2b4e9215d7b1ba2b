// Package neverbounce provides a client for the NeverBounce email
// verification API.
package neverbounce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://api.neverbounce.com/v4"

// Verification statuses returned by Verify.
const (
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
	StatusDisposable = "disposable"
	StatusCatchall   = "catchall"
	StatusUnknown    = "unknown"
	StatusError      = "error"
)

// Result is the outcome of verifying a single address.
type Result struct {
	Email               string   `json:"email"`
	Status              string   `json:"status"`
	Flags               []string `json:"flags,omitempty"`
	SuggestedCorrection string   `json:"suggested_correction,omitempty"`
	ExecutionTimeMS     int      `json:"execution_time_ms"`
	Error               string   `json:"error,omitempty"`
}

// Valid reports whether the address is deliverable.
func (r Result) Valid() bool {
	return r.Status == StatusValid
}

// Client verifies email addresses.
type Client interface {
	Verify(ctx context.Context, email string) (Result, error)
	// VerifyBatch verifies addresses in small concurrent groups to respect
	// the API's rate limits. The returned map is keyed by email; a failed
	// verification yields a Result with StatusError, never a missing key.
	VerifyBatch(ctx context.Context, emails []string) (map[string]Result, error)
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

// WithBatchSize sets the concurrent group size for VerifyBatch.
func WithBatchSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	batchSize int
	http      *http.Client
}

// NewClient creates a NeverBounce API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		batchSize: 5,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type singleCheckResponse struct {
	Status              string   `json:"status"`
	Message             string   `json:"message"`
	Result              string   `json:"result"`
	Flags               []string `json:"flags"`
	SuggestedCorrection string   `json:"suggested_correction"`
	ExecutionTime       int      `json:"execution_time"`
}

func (c *httpClient) Verify(ctx context.Context, email string) (Result, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("email", email)
	params.Set("timeout", strconv.Itoa(10))
	params.Set("request_meta_data[leverage_historical_data]", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/single/check?"+params.Encode(), nil)
	if err != nil {
		return errResult(email, err), eris.Wrap(err, "neverbounce: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errResult(email, err), eris.Wrap(err, "neverbounce: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResult(email, err), eris.Wrap(err, "neverbounce: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("neverbounce: unexpected status %d: %s", resp.StatusCode, string(body))
		return errResult(email, err), err
	}

	var sc singleCheckResponse
	if err := json.Unmarshal(body, &sc); err != nil {
		return errResult(email, err), eris.Wrap(err, "neverbounce: unmarshal response")
	}

	if sc.Status != "success" {
		err := eris.Errorf("neverbounce: api error: %s", sc.Message)
		return errResult(email, err), err
	}

	status := sc.Result
	if status == "" {
		status = StatusUnknown
	}

	return Result{
		Email:               email,
		Status:              status,
		Flags:               sc.Flags,
		SuggestedCorrection: sc.SuggestedCorrection,
		ExecutionTimeMS:     sc.ExecutionTime,
	}, nil
}

func (c *httpClient) VerifyBatch(ctx context.Context, emails []string) (map[string]Result, error) {
	results := make(map[string]Result, len(emails))
	if len(emails) == 0 {
		return results, nil
	}

	out := make([]Result, len(emails))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchSize)

	for i, email := range emails {
		g.Go(func() error {
			res, err := c.Verify(gCtx, email)
			if err != nil {
				// A failed check degrades to an error result for that
				// address only; the batch carries on.
				res = errResult(email, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "neverbounce: batch verify")
	}

	for _, res := range out {
		results[res.Email] = res
	}
	return results, nil
}

func errResult(email string, err error) Result {
	return Result{
		Email:  email,
		Status: StatusError,
		Error:  err.Error(),
	}
}
