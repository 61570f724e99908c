package health

import (
	"context"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryKeepsOrderAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		time.Sleep(10 * time.Millisecond)
		return Status{Healthy: true}
	})
	r.Register("rpc", func(context.Context) Status {
		return Status{Name: "ignored", Healthy: true, Detail: "chain 1"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if statuses[0].Name != "database" || statuses[1].Name != "rpc" {
		t.Fatalf("unexpected order or names: %+v", statuses)
	}
	if statuses[1].Detail != "chain 1" {
		t.Errorf("detail lost: %q", statuses[1].Detail)
	}
	if statuses[0].LatencyMs < 10 {
		t.Errorf("expected latency to be measured, got %dms", statuses[0].LatencyMs)
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status { return Status{Healthy: true} })
	r.Register("detection", func(context.Context) Status {
		return Status{Healthy: false, Detail: "1 active, 1 stale"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with a failing check should be unhealthy")
	}
	if statuses[1].Healthy {
		t.Error("expected detection check to fail")
	}
}

func TestRegistryRunsChecksConcurrently(t *testing.T) {
	r := NewRegistry()
	slow := func(context.Context) Status {
		time.Sleep(50 * time.Millisecond)
		return Status{Healthy: true}
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Register(name, slow)
	}

	start := time.Now()
	r.CheckAll(context.Background())
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("checks appear serialized: %v", elapsed)
	}
}

func TestRegistryPassesContext(t *testing.T) {
	r := NewRegistry()
	r.Register("rpc", func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Status{Healthy: false, Detail: ctx.Err().Error()}
		case <-time.After(time.Second):
			return Status{Healthy: true}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	healthy, statuses := r.CheckAll(ctx)
	if healthy {
		t.Fatal("expected timeout to fail the check")
	}
	if statuses[0].Detail != context.DeadlineExceeded.Error() {
		t.Errorf("unexpected detail %q", statuses[0].Detail)
	}
}
