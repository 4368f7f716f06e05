package service

import (
	"context"
	"time"
)

type AuthAbuseScope string

const AuthAbuseScopeLogin AuthAbuseScope = "login"

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// credential failures from one (identity, ip) pair.
type AuthAbusePolicy struct {
	// FreeAttempts failures are tolerated before any cooldown starts.
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// ResetWindow bounds how long failure history is remembered.
	ResetWindow time.Duration
}

func DefaultAuthAbusePolicy() AuthAbusePolicy {
	return AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  15 * time.Minute,
	}
}

func (p AuthAbusePolicy) cooldownFor(failures int) time.Duration {
	over := failures - p.FreeAttempts
	if over <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < over; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// AuthAbuseGuard throttles credential guessing. Check returns the remaining
// cooldown for the pair, RegisterFailure records one failure and returns the
// cooldown it triggered, Reset clears history after a successful login.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type NoopAuthAbuseGuard struct{}

func (NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}
