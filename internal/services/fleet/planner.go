package fleet

import (
	"math/rand"
	"sync"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig controls how long a shipment without a vehicle waits before
// the next search.
type PlannerConfig struct {
	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes

	// Jitter spreads retries of many shipments over time. 0 disables it.
	Jitter time.Duration
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner is shared by concurrent assignments; r is not safe for concurrent
// use, so it is only touched under mu.
type Planner struct {
	cfg PlannerConfig

	mu sync.Mutex
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// BackoffDelay is the wait after the attempt-th failed search.
func (p *Planner) BackoffDelay(attempt int32) time.Duration {
	var d time.Duration
	switch {
	case attempt <= 1:
		d = p.cfg.Backoff1
	case attempt == 2:
		d = p.cfg.Backoff2
	case attempt == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if p.cfg.Jitter > 0 {
		sec := int(p.cfg.Jitter.Seconds())
		if sec > 0 {
			p.mu.Lock()
			n := p.r.Intn(sec + 1)
			p.mu.Unlock()
			d += time.Duration(n) * time.Second
		}
	}
	return d
}
