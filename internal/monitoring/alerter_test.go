package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scout/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:       0.10,
		CreditUtilizationThreshold: 0.90,
		EmailCoverageFloor:         0.10,
	})

	snap := &MetricsSnapshot{
		RunTotal:          100,
		RunComplete:       95,
		RunFailed:         5,
		RunFailRate:       0.05,
		TotalProviders:    200,
		WithEmail:         80,
		EmailCoverage:     0.4,
		CreditsUsed:       40,
		CreditCap:         100,
		CreditUtilization: 0.4,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
	})

	snap := &MetricsSnapshot{
		RunTotal:      20,
		RunComplete:   12,
		RunFailed:     8,
		RunFailRate:   0.4, // 8/20 = 40%
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_CreditExhaustion(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:       0.10,
		CreditUtilizationThreshold: 0.90,
	})

	snap := &MetricsSnapshot{
		CreditsUsed:       95,
		CreditCap:         100,
		CreditUtilization: 0.95,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCreditExhaustion, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "95/100")
}

func TestAlerter_Evaluate_LowEmailCoverage(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		EmailCoverageFloor: 0.10,
	})

	snap := &MetricsSnapshot{
		TotalProviders: 200,
		WithEmail:      10,
		EmailCoverage:  0.05,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowEmailCoverage, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "10 of 200")
}

func TestAlerter_Evaluate_SmallDatasetSkipsCoverage(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		EmailCoverageFloor: 0.10,
	})

	// Below the 50-provider minimum for the coverage alert.
	snap := &MetricsSnapshot{
		TotalProviders: 20,
		WithEmail:      0,
		EmailCoverage:  0.0,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:       0.10,
		CreditUtilizationThreshold: 0.90,
		EmailCoverageFloor:         0.10,
	})

	snap := &MetricsSnapshot{
		RunTotal:          20,
		RunComplete:       10,
		RunFailed:         10,
		RunFailRate:       0.5,
		TotalProviders:    100,
		WithEmail:         2,
		EmailCoverage:     0.02,
		CreditsUsed:       100,
		CreditCap:         100,
		CreditUtilization: 1.0,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, alert := range alerts {
		types[alert.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertCreditExhaustion])
	assert.True(t, types[AlertLowEmailCoverage])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
	})

	// Only 3 finished runs, below the 5-run minimum for the failure rate alert.
	snap := &MetricsSnapshot{
		RunTotal:      3,
		RunComplete:   1,
		RunFailed:     2,
		RunFailRate:   0.666,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroUtilizationThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CreditUtilizationThreshold: 0, // disabled
	})

	snap := &MetricsSnapshot{
		CreditsUsed:       100,
		CreditCap:         100,
		CreditUtilization: 1.0,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCreditExhaustion, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}
