package nppes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scout/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "2.1", q.Get("version"))
		assert.Equal(t, "NPI-1", q.Get("enumeration_type"))
		assert.Equal(t, "Novi", q.Get("city"))
		assert.Equal(t, "MI", q.Get("state"))
		assert.Equal(t, "Dentist", q.Get("taxonomy_description"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Empty(t, q.Get("skip"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result_count": 1,
			"results": [{
				"number": "1234567890",
				"basic": {"first_name": "JANE", "last_name": "DOE", "credential": "DDS"},
				"addresses": [{
					"address_purpose": "LOCATION",
					"address_1": "100 MAIN ST",
					"city": "NOVI",
					"state": "MI",
					"postal_code": "48375-1234",
					"telephone_number": "248-555-0100"
				}],
				"endpoints": [{"endpointType": "DIRECT", "endpoint": "jane@direct.example.org"}]
			}]
		}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(1)))

	results, err := client.Search(context.Background(), SearchRequest{
		City:                "Novi",
		State:               "MI",
		TaxonomyDescription: "Dentist",
		Limit:               50,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1234567890", results[0].Number)
	assert.Equal(t, "JANE", results[0].Basic.FirstName)
	require.Len(t, results[0].Endpoints, 1)
	assert.Equal(t, "DIRECT", results[0].Endpoints[0].EndpointType)
}

func TestSearch_ClampsPageSize(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  string
	}{
		{"zero_defaults_to_max", 0, "200"},
		{"negative_defaults_to_max", -1, "200"},
		{"over_max_clamped", 500, "200"},
		{"in_range_passes_through", 75, "75"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.want, r.URL.Query().Get("limit"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"result_count": 0, "results": []}`))
			}))
			defer srv.Close()

			client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
			_, err := client.Search(context.Background(), SearchRequest{Limit: tt.limit})
			require.NoError(t, err)
		})
	}
}

func TestSearch_SkipParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "400", r.URL.Query().Get("skip"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result_count": 0, "results": []}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	_, err := client.Search(context.Background(), SearchRequest{Skip: 400})
	require.NoError(t, err)
}

func TestSearch_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result_count": 0, "results": []}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(3)))
	_, err := client.Search(context.Background(), SearchRequest{City: "Novi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSearch_NoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Errors":[{"description":"skip too large"}]}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(3)))
	_, err := client.Search(context.Background(), SearchRequest{City: "Novi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSearch_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(3)))
	_, err := client.Search(context.Background(), SearchRequest{City: "Novi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestLookupNPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1234567890", r.URL.Query().Get("number"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result_count": 1,
			"results": [{"number": "1234567890", "basic": {"first_name": "JANE", "last_name": "DOE"}}]
		}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	result, err := client.LookupNPI(context.Background(), "1234567890")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "1234567890", result.Number)
}

func TestLookupNPI_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result_count": 0, "results": []}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	result, err := client.LookupNPI(context.Background(), "9999999999")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMapSpecialtyToTaxonomy(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Internal Medicine", MapSpecialtyToTaxonomy("Primary Care"))
	assert.Equal(t, "Cardiovascular Disease", MapSpecialtyToTaxonomy("Cardiology"))
	assert.Equal(t, "Orthopaedic Surgery", MapSpecialtyToTaxonomy("Orthopedics"))

	// Unknown specialties pass through unchanged.
	assert.Equal(t, "Dentist", MapSpecialtyToTaxonomy("Dentist"))
}

func TestGuessStateFromCity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "MI", GuessStateFromCity("Novi"))
	assert.Equal(t, "MI", GuessStateFromCity("  NOVI  "))
	assert.Equal(t, "TX", GuessStateFromCity("san antonio"))
	assert.Empty(t, GuessStateFromCity("Smallville"))
}
