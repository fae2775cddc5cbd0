package cron

import (
	"context"
	"reflect"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	expiry := &stubJob{name: "subscription-expiry"}
	sweep := &stubJob{name: "stale-invoice-sweep"}
	registry.Register(expiry)
	registry.Register(sweep)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != expiry || jobs[1] != sweep {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryRejectsDuplicateNamesAndNil(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "outbox-retention"}, nil)
	if registry.Register(&stubJob{name: "outbox-retention"}) {
		t.Fatalf("duplicate job name accepted")
	}
	if registry.Register(nil) {
		t.Fatalf("nil job accepted")
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"outbox-retention"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegistryZeroValueAcceptsJobs(t *testing.T) {
	var registry Registry
	if !registry.Register(&stubJob{name: "subscription-expiry"}) {
		t.Fatalf("zero registry refused job")
	}
	if len(registry.Jobs()) != 1 {
		t.Fatalf("expected one job")
	}
}
