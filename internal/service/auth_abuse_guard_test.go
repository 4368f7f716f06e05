package service

import (
	"context"
	"testing"
	"time"
)

func testAbusePolicy() AuthAbusePolicy {
	return AuthAbusePolicy{
		FreeAttempts: 1,
		BaseDelay:    50 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     500 * time.Millisecond,
		ResetWindow:  time.Second,
	}
}

func TestAbusePolicyCooldownGrowth(t *testing.T) {
	p := testAbusePolicy()
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 50 * time.Millisecond},
		{3, 100 * time.Millisecond},
		{4, 200 * time.Millisecond},
		{5, 400 * time.Millisecond},
		{6, 500 * time.Millisecond},
		{20, 500 * time.Millisecond},
	}
	for _, c := range cases {
		if got := p.cooldownFor(c.failures); got != c.want {
			t.Fatalf("cooldownFor(%d) = %v, want %v", c.failures, got, c.want)
		}
	}
}

func TestRedisAbuseGuardCooldownLifecycle(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	guard := NewRedisAuthAbuseGuard(client, "test_abuse", testAbusePolicy())

	// First failure is free.
	if cd, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil || cd != 0 {
		t.Fatalf("first failure: cooldown=%v err=%v", cd, err)
	}
	if cd, err := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil || cd != 0 {
		t.Fatalf("check after free failure: cooldown=%v err=%v", cd, err)
	}

	// Subsequent failures apply non-decreasing cooldowns.
	var prev time.Duration
	for i := 0; i < 4; i++ {
		cd, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1")
		if err != nil {
			t.Fatalf("register failure: %v", err)
		}
		if cd < prev {
			t.Fatalf("cooldown decreased: %v after %v", cd, prev)
		}
		prev = cd
	}
	if prev == 0 {
		t.Fatal("expected a cooldown after repeated failures")
	}
	cd, err := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if cd <= 0 || cd > prev {
		t.Fatalf("check returned %v, want a remaining cooldown at most %v", cd, prev)
	}

	// The cooldown drains on its own.
	server.FastForward(time.Second)
	if cd, err := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil || cd != 0 {
		t.Fatalf("check after fast-forward: cooldown=%v err=%v", cd, err)
	}
}

func TestRedisAbuseGuardIsolatesPairs(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	guard := NewRedisAuthAbuseGuard(client, "test_abuse", testAbusePolicy())

	for i := 0; i < 3; i++ {
		if _, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil {
			t.Fatalf("register failure: %v", err)
		}
	}
	if cd, _ := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); cd == 0 {
		t.Fatal("expected cooldown for the offending pair")
	}
	// Same user from a different address, and a different user from the
	// same address, are both unaffected.
	if cd, _ := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.2"); cd != 0 {
		t.Fatalf("unexpected cooldown for other ip: %v", cd)
	}
	if cd, _ := guard.Check(ctx, AuthAbuseScopeLogin, "bob", "10.0.0.1"); cd != 0 {
		t.Fatalf("unexpected cooldown for other identity: %v", cd)
	}
}

func TestRedisAbuseGuardResetClearsHistory(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	guard := NewRedisAuthAbuseGuard(client, "test_abuse", testAbusePolicy())

	for i := 0; i < 3; i++ {
		if _, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil {
			t.Fatalf("register failure: %v", err)
		}
	}
	if err := guard.Reset(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if cd, _ := guard.Check(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); cd != 0 {
		t.Fatalf("expected no cooldown after reset, got %v", cd)
	}
	// History restarts from zero: the next failure is free again.
	if cd, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "alice", "10.0.0.1"); err != nil || cd != 0 {
		t.Fatalf("failure after reset: cooldown=%v err=%v", cd, err)
	}
}
