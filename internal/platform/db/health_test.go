package db

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      0,
		MaxConns:        20,
		AcquireDuration: "0s",
		Healthy:         false,
	}

	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
}

func TestRunChecks_AllHealthy(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	status, code, results := runChecks(context.Background(), []HealthCheck{
		{Name: "database", Check: ok},
		{Name: "llm", Optional: true, Check: ok},
	})

	if status != "healthy" || code != http.StatusOK {
		t.Errorf("expected healthy/200, got %s/%d", status, code)
	}
	if results["llm"].Status != "healthy" {
		t.Errorf("expected llm healthy, got %+v", results["llm"])
	}
}

func TestRunChecks_OptionalFailureDegrades(t *testing.T) {
	status, code, results := runChecks(context.Background(), []HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return nil }},
		{Name: "llm", Optional: true, Check: func(ctx context.Context) error { return errors.New("connection refused") }},
	})

	if status != "degraded" || code != http.StatusOK {
		t.Errorf("expected degraded/200, got %s/%d", status, code)
	}
	if results["llm"].Error != "connection refused" {
		t.Errorf("expected llm error to be reported, got %+v", results["llm"])
	}
}

func TestRunChecks_MandatoryFailure(t *testing.T) {
	status, code, _ := runChecks(context.Background(), []HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return errors.New("down") }},
		{Name: "llm", Optional: true, Check: func(ctx context.Context) error { return errors.New("down") }},
	})

	if status != "unhealthy" || code != http.StatusServiceUnavailable {
		t.Errorf("expected unhealthy/503, got %s/%d", status, code)
	}
}
