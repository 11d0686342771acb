// Package provider implements the remote translation backends and their
// health bookkeeping. Each provider is self-synchronized: counters, the
// sliding requests-per-minute window, and the exponential cooldown are all
// updated under the provider's own lock. There is no cross-provider state.
package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Translator is the capability set shared by every translation backend.
// Translate returns ("", false) on failure — providers never return errors
// to the chain; failures are recorded in the provider's own state and the
// chain moves on.
type Translator interface {
	// Name is a stable identifier used in stats and logs.
	Name() string

	// Translate translates one text. ok is false when the provider failed
	// or produced a no-op translation (trim+lowercase equal to the input).
	// Empty or whitespace-only input is returned as-is with ok=true.
	Translate(ctx context.Context, text string) (result string, ok bool)

	// TranslateBatch translates texts positionally. The returned slice has
	// the same length as the input; ok[i]=false marks a failed element.
	TranslateBatch(ctx context.Context, texts []string) (results []string, ok []bool)

	// IsAvailable is the static availability check: credentials present,
	// backing tool installed. It never consults cooldown state.
	IsAvailable() bool

	// Status derives availability from IsAvailable and the current cooldown.
	Status() domain.ProviderStatus

	// PrecheckRate is the free-running sliding-window gate. It returns
	// false when the provider is at its RPM cap for the current window.
	PrecheckRate() bool

	// Stats returns a snapshot of the provider's counters.
	Stats() domain.ProviderStats
}

// cooldownBase is the first-offense cooldown; each consecutive rate-limit
// failure doubles it, capped at 2^4 (30s → 60s, 120s, 240s, 480s).
const (
	cooldownBase   = 30 * time.Second
	cooldownMaxExp = 4
	windowDuration = time.Minute
)

// State carries the shared bookkeeping embedded by every concrete provider.
// All fields are guarded by mu.
type State struct {
	name   string
	maxRPM int

	mu                 sync.Mutex
	totalRequests      int64
	successful         int64
	failed             int64
	rateLimited        int64
	requestsThisWindow int
	windowStart        time.Time
	cooldownUntil      time.Time
	lastRequestAt      time.Time
	lastError          string

	// now is swappable for tests.
	now func() time.Time
}

// NewState creates provider bookkeeping with the given RPM cap.
func NewState(name string, maxRPM int) *State {
	return &State{
		name:        name,
		maxRPM:      maxRPM,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// Name returns the provider's stable identifier.
func (s *State) Name() string { return s.name }

// PrecheckRate resets the window when it is older than a minute, then
// reports whether another request fits under the cap. A spurious reset at
// the window boundary is acceptable.
func (s *State) PrecheckRate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.cooldownUntil) {
		return false
	}
	if now.Sub(s.windowStart) > windowDuration {
		s.requestsThisWindow = 0
		s.windowStart = now
	}
	return s.requestsThisWindow < s.maxRPM
}

// RecordSuccess bumps the success counters and the window.
func (s *State) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.successful++
	s.requestsThisWindow++
	s.lastRequestAt = s.now()
}

// RecordFailure bumps the failure counters. When the failure is classified
// as rate limiting, the cooldown advances exponentially: 30s·2^min(k,4)
// where k is the cumulative rate-limit count.
func (s *State) RecordFailure(errMsg string, isRateLimit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.totalRequests++
	s.failed++
	s.lastError = errMsg

	if isRateLimit {
		s.rateLimited++
		exp := s.rateLimited
		if exp > cooldownMaxExp {
			exp = cooldownMaxExp
		}
		s.cooldownUntil = now.Add(cooldownBase * (1 << exp))
	}
}

// InCooldown reports whether the provider is inside its cooldown window.
func (s *State) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}

// CooldownUntil returns the cooldown deadline (zero when none).
func (s *State) CooldownUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownUntil
}

// LastError returns the most recent failure message.
func (s *State) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// statusWith derives the public status given static availability.
func (s *State) statusWith(available bool) domain.ProviderStatus {
	if !available {
		return domain.ProviderDisabled
	}
	if s.InCooldown() {
		return domain.ProviderRateLimited
	}
	return domain.ProviderAvailable
}

// statsWith builds the counters snapshot given static availability.
func (s *State) statsWith(available bool) domain.ProviderStats {
	status := s.statusWith(available)

	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalRequests
	if total == 0 {
		total = 1
	}
	return domain.ProviderStats{
		Status:        status,
		TotalRequests: s.totalRequests,
		Successful:    s.successful,
		Failed:        s.failed,
		RateLimited:   s.rateLimited,
		SuccessRate:   fmt.Sprintf("%.1f%%", float64(s.successful)/float64(total)*100),
	}
}

// noopTranslation reports whether the provider output is a trim+lowercase
// match of the input — treated as a failed translation everywhere.
func noopTranslation(input, output string) bool {
	return strings.EqualFold(strings.TrimSpace(output), strings.TrimSpace(input))
}

// isRateLimitMessage classifies an HTTP error string as rate limiting.
func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate") ||
		strings.Contains(lower, "too many") ||
		strings.Contains(lower, "quota")
}
