package scheduler

import "testing"

func TestWarmPool_ClaimEmpty(t *testing.T) {
	p := NewWarmPool()
	_, ok := p.Claim("tmpl-python")
	if ok {
		t.Fatalf("expected no claim from an empty pool")
	}
}

func TestWarmPool_ReturnThenClaim(t *testing.T) {
	p := NewWarmPool()
	p.Return("tmpl-python", WarmContainer{ContainerID: "c1", NodeID: "node-1"})

	c, ok := p.Claim("tmpl-python")
	if !ok {
		t.Fatalf("expected a claim after Return")
	}
	if c.ContainerID != "c1" {
		t.Fatalf("expected c1, got %s", c.ContainerID)
	}

	if _, ok := p.Claim("tmpl-python"); ok {
		t.Fatalf("expected pool to be empty after single claim")
	}
}

func TestWarmPool_Deficit(t *testing.T) {
	p := NewWarmPool()
	p.SetTarget("tmpl-ds", WarmTargetDataScience)

	if d := p.Deficit("tmpl-ds"); d != WarmTargetDataScience {
		t.Fatalf("expected deficit %d, got %d", WarmTargetDataScience, d)
	}

	p.Return("tmpl-ds", WarmContainer{ContainerID: "c1"})
	if d := p.Deficit("tmpl-ds"); d != WarmTargetDataScience-1 {
		t.Fatalf("expected deficit %d, got %d", WarmTargetDataScience-1, d)
	}
}

func TestWarmPool_IndependentBuckets(t *testing.T) {
	p := NewWarmPool()
	p.Return("tmpl-a", WarmContainer{ContainerID: "a1"})

	if _, ok := p.Claim("tmpl-b"); ok {
		t.Fatalf("tmpl-b should have its own empty bucket")
	}
	if _, ok := p.Claim("tmpl-a"); !ok {
		t.Fatalf("tmpl-a should still have its container")
	}
}
