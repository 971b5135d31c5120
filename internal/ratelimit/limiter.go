package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Rule caps one event kind at Max events per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// DefaultRule applies to event kinds without an explicit table entry.
var DefaultRule = Rule{Max: 100, Window: time.Minute}

// DefaultRules is the static per-kind limit table.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"register":      {Max: 5, Window: 5 * time.Minute},
		"message:send":  {Max: 100, Window: time.Minute},
		"message:ack":   {Max: 300, Window: time.Minute},
		"peer:discover": {Max: 20, Window: time.Minute},
		"key:exchange":  {Max: 10, Window: time.Minute},
		"webrtc:offer":  {Max: 300, Window: time.Minute},
		"webrtc:answer": {Max: 300, Window: time.Minute},
		"webrtc:ice":    {Max: 300, Window: time.Minute},
		"webrtc:hangup": {Max: 300, Window: time.Minute},
		"typing":        {Max: 50, Window: time.Minute},
		"group:create":  {Max: 5, Window: 5 * time.Minute},
		"file:send":     {Max: 20, Window: time.Minute},
	}
}

type window struct {
	count   int
	resetAt time.Time
}

type key struct {
	kind  string
	actor string
}

// Limiter counts events per (kind, actor) over fixed windows. Fixed windows
// keep memory and check cost O(1) per pair at the price of permitting brief
// bursts exactly at window boundaries. Kinds never interact: an actor
// exceeding one kind's limit is unaffected on other kinds.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	windows map[key]*window
}

// NewLimiter creates a limiter with the default rules table.
func NewLimiter() *Limiter {
	return NewLimiterWithRules(DefaultRules())
}

// NewLimiterWithRules creates a limiter with an explicit rules table.
func NewLimiterWithRules(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		windows: make(map[key]*window),
	}
}

// Allow records one event and reports whether it is within the kind's limit.
// The check-then-increment is atomic per (kind, actor); a rejected event
// does not advance the counter.
func (l *Limiter) Allow(kind, actor string) bool {
	rule, ok := l.rules[kind]
	if !ok {
		rule = DefaultRule
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{kind: kind, actor: actor}
	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		// Fresh window: the triggering event counts as the first.
		l.windows[k] = &window{count: 1, resetAt: now.Add(rule.Window)}
		return true
	}

	if w.count >= rule.Max {
		return false
	}
	w.count++
	return true
}

// Cleanup drops windows whose reset time has passed, so idle pairs do not
// accumulate.
func (l *Limiter) Cleanup() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}
