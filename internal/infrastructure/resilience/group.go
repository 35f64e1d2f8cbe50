package resilience

import (
	"strings"
	"sync"
	"time"
)

type member struct {
	breaker  *Breaker
	lastUsed time.Time
}

// Group lazily creates one breaker per key, so a failing upstream host does
// not short-circuit requests to healthy ones. Closed breakers unused for
// settings.IdleTTL are dropped; open and half-open ones are kept so a dead
// host cannot escape its breaker by going quiet.
type Group struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	members   map[string]*member
	lastSweep time.Time
}

// NewGroup creates a breaker group sharing the given settings.
func NewGroup(settings Settings) *Group {
	return &Group{
		settings: settings,
		now:      time.Now,
		members:  make(map[string]*member),
	}
}

// Get returns the breaker for key, creating it on first use. Keys are
// case-insensitive.
func (g *Group) Get(key string) *Breaker {
	key = strings.ToLower(key)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.members[key]
	if !ok {
		m = &member{breaker: New(key, g.settings)}
		g.members[key] = m
	}
	m.lastUsed = now
	g.sweep(now)
	return m.breaker
}

// Len returns the number of tracked breakers.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// sweep runs at most once per IdleTTL. Caller holds mu.
func (g *Group) sweep(now time.Time) {
	ttl := g.settings.IdleTTL
	if ttl <= 0 || now.Sub(g.lastSweep) < ttl {
		return
	}
	g.lastSweep = now
	for key, m := range g.members {
		if now.Sub(m.lastUsed) > ttl && m.breaker.State() == StateClosed {
			delete(g.members, key)
		}
	}
}

// States reports the state of every known breaker.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.members))
	for _, m := range g.members {
		breakers = append(breakers, m.breaker)
	}
	g.mu.Unlock()

	states := make(map[string]State, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State()
	}
	return states
}
