package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/David2024patton/itak/internal/itakerr"
)

// Token identifies an in-flight reservation spanning one or more
// buckets, returned by Reserve and consumed by exactly one of Commit or
// Rollback.
type Token struct {
	id          uint64
	principalID string
	tool        string
	cost        float64
	bucketKeys  []string
}

// Config configures the nested bucket topology and cost-budget windows.
type Config struct {
	GlobalRatePerSecond    float64
	GlobalBurst            int
	PerPrincipalRate       float64
	PerPrincipalBurst      int
	PerToolRate            float64
	PerToolBurst           int
	DailyBudgetUSD         float64
	WeeklyBudgetUSD        float64
	MonthlyBudgetUSD       float64
	SoftThresholdFraction  float64 // e.g. 0.8 of the hard budget
	AuthFailureThreshold   int
	AuthFailureWindow      time.Duration
	LockoutDuration        time.Duration
}

// DefaultConfig mirrors the teacher's ratelimit.DefaultConfig defaults,
// extended with cost-budget and lockout defaults.
func DefaultConfig() Config {
	return Config{
		GlobalRatePerSecond:   50.0,
		GlobalBurst:           100,
		PerPrincipalRate:      10.0,
		PerPrincipalBurst:     20,
		PerToolRate:           5.0,
		PerToolBurst:          10,
		DailyBudgetUSD:        10.0,
		WeeklyBudgetUSD:       50.0,
		MonthlyBudgetUSD:      150.0,
		SoftThresholdFraction: 0.8,
		AuthFailureThreshold:  5,
		AuthFailureWindow:     10 * time.Minute,
		LockoutDuration:       15 * time.Minute,
	}
}

// costWindow tracks committed spend for one rolling window (day/week/month).
type costWindow struct {
	mu        sync.Mutex
	spent     float64
	resetAt   time.Time
	period    time.Duration
	overrideUntil time.Time
}

func newCostWindow(period time.Duration) *costWindow {
	return &costWindow{resetAt: time.Now().Add(period), period: period}
}

func (w *costWindow) rollIfExpired() {
	if time.Now().After(w.resetAt) {
		w.spent = 0
		w.resetAt = time.Now().Add(w.period)
	}
}

// authFailures tracks auth-failure counts per principal for lockout.
type authFailures struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// Limiter is the C2 rate/cost limiter: nested all-or-nothing buckets
// plus cost-budget windows and auth-failure lockout.
type Limiter struct {
	cfg Config

	mu          sync.Mutex
	global      *bucket
	perTool     map[string]*bucket
	perPrincipal map[string]*bucket

	daily   *costWindow
	weekly  *costWindow
	monthly *costWindow

	authMu sync.Mutex
	auth   map[string]*authFailures

	nextToken uint64
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:          cfg,
		global:       newBucket(cfg.GlobalRatePerSecond, cfg.GlobalBurst),
		perTool:      map[string]*bucket{},
		perPrincipal: map[string]*bucket{},
		daily:        newCostWindow(24 * time.Hour),
		weekly:       newCostWindow(7 * 24 * time.Hour),
		monthly:      newCostWindow(30 * 24 * time.Hour),
		auth:         map[string]*authFailures{},
	}
}

func (l *Limiter) bucketFor(m map[string]*bucket, key string, rate float64, burst int) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := m[key]
	if !ok {
		b = newBucket(rate, burst)
		m[key] = b
	}
	return b
}

// LockedUntil reports the lockout expiry for principal, or the zero time
// if not locked.
func (l *Limiter) LockedUntil(principalID string) time.Time {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	af, ok := l.auth[principalID]
	if !ok {
		return time.Time{}
	}
	if time.Now().Before(af.lockedUntil) {
		return af.lockedUntil
	}
	return time.Time{}
}

// RecordAuthFailure increments the auth-failure counter for principal;
// after AuthFailureThreshold failures within AuthFailureWindow, the
// principal enters Lockout for LockoutDuration.
func (l *Limiter) RecordAuthFailure(principalID string) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	af, ok := l.auth[principalID]
	now := time.Now()
	if !ok || now.Sub(af.windowStart) > l.cfg.AuthFailureWindow {
		af = &authFailures{windowStart: now}
		l.auth[principalID] = af
	}
	af.count++
	if af.count >= l.cfg.AuthFailureThreshold {
		af.lockedUntil = now.Add(l.cfg.LockoutDuration)
	}
}

// ResetAuthFailures clears the failure counter, e.g. on a successful auth.
func (l *Limiter) ResetAuthFailures(principalID string) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	delete(l.auth, principalID)
}

// OverrideHardBudget time-boxes an owner override that bypasses the hard
// cost-budget denial until expiry.
func (l *Limiter) OverrideHardBudget(until time.Time) {
	for _, w := range []*costWindow{l.daily, l.weekly, l.monthly} {
		w.mu.Lock()
		w.overrideUntil = until
		w.mu.Unlock()
	}
}

func (w *costWindow) overridden() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Now().Before(w.overrideUntil)
}

// Reserve attempts an all-or-nothing reservation across the global,
// per-tool, and per-principal rate buckets plus the cost-budget windows.
// isFreeModel tools bypass cost accounting but not rate buckets, per
// spec §4.2 ("Free (local) models bypass cost but not request-rate
// buckets").
func (l *Limiter) Reserve(principalID, tool string, costEstimate float64, isFreeModel bool) (*Token, error) {
	if until := l.LockedUntil(principalID); !until.IsZero() {
		return nil, itakerr.New(itakerr.RateLimited, fmt.Sprintf("locked until %s", until.Format(time.RFC3339)), "", 0)
	}

	if !isFreeModel {
		for _, w := range []*costWindow{l.daily, l.weekly, l.monthly} {
			w.mu.Lock()
			w.rollIfExpired()
			hard := l.hardBudgetFor(w)
			over := w.overridden()
			if !over && hard > 0 && w.spent+costEstimate > hard {
				w.mu.Unlock()
				return nil, itakerr.New(itakerr.BudgetExceeded, "hard cost budget exceeded", "", 0)
			}
			w.mu.Unlock()
		}
	}

	principalBucket := l.bucketFor(l.perPrincipal, principalID, l.cfg.PerPrincipalRate, l.cfg.PerPrincipalBurst)
	toolBucket := l.bucketFor(l.perTool, tool, l.cfg.PerToolRate, l.cfg.PerToolBurst)

	if !l.global.tryReserve(1) {
		return nil, itakerr.New(itakerr.RateLimited, "global rate limit", "", 0)
	}
	if !principalBucket.tryReserve(1) {
		l.global.release(1)
		return nil, itakerr.New(itakerr.RateLimited, "per-principal rate limit", "", 0)
	}
	if !toolBucket.tryReserve(1) {
		l.global.release(1)
		principalBucket.release(1)
		return nil, itakerr.New(itakerr.RateLimited, "per-tool rate limit", "", 0)
	}

	l.mu.Lock()
	l.nextToken++
	id := l.nextToken
	l.mu.Unlock()

	return &Token{
		id:          id,
		principalID: principalID,
		tool:        tool,
		cost:        costEstimate,
		bucketKeys:  []string{"global", "principal:" + principalID, "tool:" + tool},
	}, nil
}

func (l *Limiter) hardBudgetFor(w *costWindow) float64 {
	switch w.period {
	case 24 * time.Hour:
		return l.cfg.DailyBudgetUSD
	case 7 * 24 * time.Hour:
		return l.cfg.WeeklyBudgetUSD
	default:
		return l.cfg.MonthlyBudgetUSD
	}
}

// Commit finalizes a reservation with the actual cost incurred. Rate
// buckets are not released on commit (the token was already spent);
// cost windows accumulate the actual (not estimated) cost.
func (l *Limiter) Commit(tok *Token, actualCost float64) {
	if tok == nil {
		return
	}
	for _, w := range []*costWindow{l.daily, l.weekly, l.monthly} {
		w.mu.Lock()
		w.rollIfExpired()
		w.spent += actualCost
		w.mu.Unlock()
	}
}

// Rollback undoes a reservation exactly: the rate-bucket tokens consumed
// by Reserve are returned, restoring counters to their pre-reserve value.
func (l *Limiter) Rollback(tok *Token) {
	if tok == nil {
		return
	}
	l.global.release(1)
	if b, ok := l.perPrincipal[tok.principalID]; ok {
		b.release(1)
	}
	if b, ok := l.perTool[tok.tool]; ok {
		b.release(1)
	}
}

// SoftThresholdReached reports whether the window's spend has crossed
// the configured soft-warning fraction of its hard budget, for emitting
// a non-blocking warning signal.
func (l *Limiter) SoftThresholdReached(period time.Duration) bool {
	var w *costWindow
	switch period {
	case 24 * time.Hour:
		w = l.daily
	case 7 * 24 * time.Hour:
		w = l.weekly
	default:
		w = l.monthly
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	hard := l.hardBudgetFor(w)
	if hard <= 0 {
		return false
	}
	return w.spent >= hard*l.cfg.SoftThresholdFraction
}
