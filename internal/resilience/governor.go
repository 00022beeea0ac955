package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrAdmissionDenied is returned when the governor refuses a backend call.
// It is a routing signal for the fallback chain, not a caller-visible failure.
var ErrAdmissionDenied = eris.New("admission denied")

// GovernorConfig bounds global backend call rate and spend.
type GovernorConfig struct {
	// RequestsPerMinute caps admissions in any trailing 60-second window.
	// Default: 60.
	RequestsPerMinute int

	// MaxHourlyCost caps accumulated estimated cost (USD) per clock-hour
	// bucket. Default: 10.0.
	MaxHourlyCost float64
}

// DefaultGovernorConfig returns sensible defaults.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		RequestsPerMinute: 60,
		MaxHourlyCost:     10.0,
	}
}

// Token is proof of a granted admission.
type Token struct {
	AdmittedAt time.Time
	Cost       float64
}

// GovernorStats is a point-in-time view of admission state.
type GovernorStats struct {
	WindowRequests    int     `json:"window_requests"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	HourCost          float64 `json:"hour_cost"`
	MaxHourlyCost     float64 `json:"max_hourly_cost"`
	Denied            int64   `json:"denied"`
	Admitted          int64   `json:"admitted"`
}

// Governor is the global admission ledger across all backend calls. The
// boundary check and the recording of timestamp+cost happen under one lock,
// so concurrent admissions cannot jointly exceed a cap.
type Governor struct {
	mu sync.Mutex

	cfg        GovernorConfig
	window     []time.Time // admissions in the trailing 60s, oldest first
	hourStart  time.Time   // truncated to the hour
	hourCost   float64
	admitted   int64
	denied     int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewGovernor creates a governor with the given limits.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxHourlyCost <= 0 {
		cfg.MaxHourlyCost = 10.0
	}
	return &Governor{
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Admit grants or denies one backend call with the given estimated cost.
// On success the admission is recorded atomically with the check; the
// returned token carries the admission timestamp.
func (g *Governor) Admit(estimatedCost float64) (Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	g.pruneLocked(now)

	if len(g.window) >= g.cfg.RequestsPerMinute {
		g.denied++
		return Token{}, eris.Wrap(ErrAdmissionDenied, "governor: request rate cap reached")
	}
	if g.hourCost+estimatedCost > g.cfg.MaxHourlyCost {
		g.denied++
		return Token{}, eris.Wrap(ErrAdmissionDenied, "governor: hourly cost cap reached")
	}

	g.window = append(g.window, now)
	g.hourCost += estimatedCost
	g.admitted++
	return Token{AdmittedAt: now, Cost: estimatedCost}, nil
}

// Stats returns a snapshot of the governor's current state.
func (g *Governor) Stats() GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(g.nowFunc())
	return GovernorStats{
		WindowRequests:    len(g.window),
		RequestsPerMinute: g.cfg.RequestsPerMinute,
		HourCost:          g.hourCost,
		MaxHourlyCost:     g.cfg.MaxHourlyCost,
		Denied:            g.denied,
		Admitted:          g.admitted,
	}
}

// pruneLocked drops window entries older than 60s and rolls the hour bucket.
// Callers must hold g.mu.
func (g *Governor) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	idx := 0
	for idx < len(g.window) && !g.window[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		g.window = append(g.window[:0], g.window[idx:]...)
	}

	hour := now.Truncate(time.Hour)
	if !hour.Equal(g.hourStart) {
		g.hourStart = hour
		g.hourCost = 0
	}
}
