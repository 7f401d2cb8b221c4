package diarization

import (
	"context"
	"sync"
	"time"
)

// PrivacyMode controls whether the Model Router may choose an external
// (network) model over a local one.
type PrivacyMode string

const (
	// LocalOnly never issues a network call, ever.
	LocalOnly PrivacyMode = "local_only"
	// PreferExternal tries external first and falls back to local if
	// the connectivity/API check fails within its timeout.
	PreferExternal PrivacyMode = "prefer_external"
	// ExternalOnly requires an external model; callers get an error if
	// connectivity is unavailable.
	ExternalOnly PrivacyMode = "external_only"
)

const defaultConnectivityTTL = 5 * time.Minute

// ConnectivityCheck probes whether an external model endpoint is
// reachable. Implementations must respect ctx's deadline.
type ConnectivityCheck func(ctx context.Context) error

// Choice is the router's decision: use the external model or not.
type Choice struct {
	UseExternal bool
	DecidedAt   time.Time
}

// ModelRouter picks local vs. external models per PrivacyMode, caching
// the connectivity check's outcome for a TTL so repeated diarization
// calls in the same session don't re-probe on every segment.
type ModelRouter struct {
	mode  PrivacyMode
	check ConnectivityCheck
	ttl   time.Duration

	mu     sync.Mutex
	cached *Choice
}

// NewModelRouter builds a router. ttl <= 0 uses the 5 minute default.
func NewModelRouter(mode PrivacyMode, check ConnectivityCheck, ttl time.Duration) *ModelRouter {
	if ttl <= 0 {
		ttl = defaultConnectivityTTL
	}
	return &ModelRouter{mode: mode, check: check, ttl: ttl}
}

// Choose returns whether the caller should use the external model.
// LocalOnly always returns false without calling check. ExternalOnly
// returns true or the connectivity error. PreferExternal returns true
// unless the cached or fresh connectivity check fails, in which case it
// falls back to false rather than erroring.
func (r *ModelRouter) Choose(ctx context.Context) (bool, error) {
	if r.mode == LocalOnly {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cached.DecidedAt) < r.ttl {
		return r.cached.UseExternal, nil
	}

	err := r.probe(ctx)
	switch r.mode {
	case ExternalOnly:
		if err != nil {
			return false, err
		}
		r.cached = &Choice{UseExternal: true, DecidedAt: time.Now()}
		return true, nil
	default: // PreferExternal
		useExternal := err == nil
		r.cached = &Choice{UseExternal: useExternal, DecidedAt: time.Now()}
		return useExternal, nil
	}
}

func (r *ModelRouter) probe(ctx context.Context) error {
	if r.check == nil {
		return nil
	}
	return r.check(ctx)
}

// InvalidateCache forces the next Choose call to re-probe connectivity.
func (r *ModelRouter) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}
