package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/digital-play/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealthFillsDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{},
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated timestamp %v, got %v", now, report.GeneratedAt)
	}
	if report.Checks == nil {
		t.Fatalf("expected non-nil checks map")
	}
}

func TestSystemServiceHealthPassesThroughDegraded(t *testing.T) {
	generated := time.Date(2026, 3, 14, 9, 59, 0, 0, time.UTC)
	repo := &stubHealthRepo{collectFn: func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			GeneratedAt: generated,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusDegraded, Detail: "slow probe"},
			},
		}, nil
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if !report.GeneratedAt.Equal(generated) {
		t.Fatalf("generated timestamp was overwritten: %v", report.GeneratedAt)
	}
	if report.Checks["firestore"].Detail != "slow probe" {
		t.Fatalf("unexpected checks %+v", report.Checks)
	}
}

func TestSystemServiceHealthPropagatesCollectError(t *testing.T) {
	probeErr := errors.New("probe failed")
	repo := &stubHealthRepo{collectFn: func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{}, probeErr
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.Health(context.Background()); !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error, got %v", err)
	}
}

func TestSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected constructor error without health repository")
	}
}
