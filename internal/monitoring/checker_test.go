package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scout/internal/config"
)

func TestNewChecker_Defaults(t *testing.T) {
	st := newTestStore(t)
	checker := NewChecker(NewCollector(st, 100), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	assert.Equal(t, 5*time.Minute, checker.interval)
	assert.Equal(t, 24, checker.lookback)
}

func TestNewChecker_ConfiguredInterval(t *testing.T) {
	st := newTestStore(t)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 60, LookbackWindowHours: 6}
	checker := NewChecker(NewCollector(st, 100), NewAlerter(cfg), cfg)

	assert.Equal(t, time.Minute, checker.interval)
	assert.Equal(t, 6, checker.lookback)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(st, 100), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checker did not stop after cancellation")
	}
}

func TestChecker_RunOnceChecksImmediately(t *testing.T) {
	st := newTestStore(t)
	cfg := config.MonitoringConfig{}
	checker := NewChecker(NewCollector(st, 100), NewAlerter(cfg), cfg)

	// An empty store collects cleanly and raises nothing.
	require.NotPanics(t, func() {
		checker.runOnce(context.Background())
	})
}
