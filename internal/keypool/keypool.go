// Package keypool implements a purpose-scoped pool of AI upstream
// credentials with round-robin reservation, RPM/RPD budgeting, a three-tier
// cooldown state machine, and disable-on-auth-fault handling.
package keypool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/metrics"
)

// ShouldDisableFunc lets a caller parameterise which error kinds disable a
// key outright. nil defaults to the source behaviour: invalid_key,
// permission_denied and not_found all disable.
type ShouldDisableFunc func(statusCode int, kind domain.ErrorKind) bool

// DisabledCallback is invoked out-of-band when a key transitions to
// disabled. A panicking callback is recovered and logged; it never
// propagates into Reserve/Report.
type DisabledCallback func(keyID, displayName, reason string)

const slidingWindow = 300 * time.Second

type keyRuntime struct {
	spec  domain.KeySpec
	usage domain.KeyUsage

	errHead int
	errLen  int
}

// Pool is a purpose-scoped key pool. All public operations are mutually
// exclusive under a single lock and O(n) in the number of keys, exactly as
// the source describes.
type Pool struct {
	mu sync.Mutex

	purpose string
	logger  *slog.Logger

	keys  map[string]*keyRuntime
	order []string // stable iteration order for round robin
	rrIdx int

	shouldDisable ShouldDisableFunc
	onDisabled    DisabledCallback

	now func() time.Time
}

// New builds a Pool for one purpose from the given key specs.
func New(purpose string, specs []domain.KeySpec, logger *slog.Logger) *Pool {
	p := &Pool{
		purpose: purpose,
		logger:  logger,
		keys:    make(map[string]*keyRuntime, len(specs)),
		now:     time.Now,
	}
	for _, s := range specs {
		p.keys[s.KeyID] = &keyRuntime{
			spec: s,
			usage: domain.KeyUsage{
				RPDUTCDate:      p.now().UTC().Format("2006-01-02"),
				ErrorTimestamps: make([]time.Time, domain.ErrorRingCapacity),
			},
		}
		p.order = append(p.order, s.KeyID)
	}
	return p
}

// LoadUsage seeds per-key runtime state from a persisted snapshot (see
// ports.KeyUsageRepository), letting a restart honour an in-flight cooldown
// or disable instead of silently re-admitting the key.
func (p *Pool) LoadUsage(snapshot map[string]domain.KeyUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for keyID, usage := range snapshot {
		kr, ok := p.keys[keyID]
		if !ok {
			continue
		}
		if usage.ErrorTimestamps == nil {
			usage.ErrorTimestamps = make([]time.Time, domain.ErrorRingCapacity)
		}
		kr.usage = usage
		kr.errLen = len(usage.ErrorTimestamps)
		if kr.errLen > domain.ErrorRingCapacity {
			kr.errLen = domain.ErrorRingCapacity
		}
	}
}

// Snapshot returns a copy of current usage, for persistence (the runtime
// saves it at shutdown).
func (p *Pool) Snapshot() map[string]domain.KeyUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]domain.KeyUsage, len(p.keys))
	for keyID, kr := range p.keys {
		out[keyID] = kr.usage
	}
	return out
}

func (p *Pool) SetShouldDisable(fn ShouldDisableFunc) { p.shouldDisable = fn }
func (p *Pool) SetOnDisabled(fn DisabledCallback)     { p.onDisabled = fn }

func defaultShouldDisable(_ int, kind domain.ErrorKind) bool {
	switch kind {
	case domain.ErrorKindInvalidKey, domain.ErrorKindPermissionDenied, domain.ErrorKindNotFound:
		return true
	default:
		return false
	}
}

type waitKind int

const (
	waitNone waitKind = iota
	waitRPM
	waitRPD
)

// Reserve selects a reservable key by round robin among keys that are
// enabled, not disabled, not cooling down, and within RPM/RPD budget. When
// none are available it reports the minimum wait: an RPM wait <= 65s is
// retried once when waitForRPM is set; an RPD wait is retried only when
// waitForRPD is set, since an RPD wait can be hours long.
func (p *Pool) Reserve(ctx context.Context, waitForRPM, waitForRPD bool) (*domain.KeyReservation, error) {
	res, wait, kind := p.tryReserve()
	if res != nil {
		metrics.KeyPoolReservationsTotal.WithLabelValues(p.purpose, "granted").Inc()
		return res, nil
	}
	if wait <= 0 {
		metrics.KeyPoolReservationsTotal.WithLabelValues(p.purpose, "exhausted").Inc()
		return nil, nil
	}

	switch kind {
	case waitRPM:
		if !waitForRPM || wait > 65*time.Second {
			return nil, nil
		}
	case waitRPD:
		if !waitForRPD {
			return nil, nil
		}
	default:
		return nil, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	res, _, _ = p.tryReserve()
	if res != nil {
		metrics.KeyPoolReservationsTotal.WithLabelValues(p.purpose, "granted").Inc()
	} else {
		metrics.KeyPoolReservationsTotal.WithLabelValues(p.purpose, "exhausted").Inc()
	}
	return res, nil
}

// tryReserve performs one pass under the lock: lazily reset RPM/RPD
// windows, pick an available key by round robin, and commit accounting.
func (p *Pool) tryReserve() (*domain.KeyReservation, time.Duration, waitKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.resetWindowsLocked(now)

	n := len(p.order)
	if n == 0 {
		return nil, 0, waitNone
	}

	var minRPMWait, minRPDWait time.Duration
	haveRPMWait, haveRPDWait := false, false

	for i := 0; i < n; i++ {
		idx := (p.rrIdx + i) % n
		keyID := p.order[idx]
		kr := p.keys[keyID]

		if !kr.spec.Enabled || kr.usage.Disabled || now.Before(kr.usage.CooldownUntil) {
			continue
		}

		rpmOK := kr.spec.RPMLimit == 0 || kr.usage.RPMCounter < kr.spec.RPMLimit
		rpdOK := kr.spec.RPDLimit == 0 || kr.usage.RPDCounter < kr.spec.RPDLimit

		if rpmOK && rpdOK {
			kr.usage.RPMCounter++
			kr.usage.RPDCounter++
			p.rrIdx = (idx + 1) % n
			return &domain.KeyReservation{
				KeyID:           kr.spec.KeyID,
				Secret:          kr.spec.Secret,
				UpstreamBaseURL: kr.spec.UpstreamBaseURL,
				ModelName:       kr.spec.ModelName,
			}, 0, waitNone
		}

		if !rpmOK {
			remaining := kr.usage.RPMWindowStart.Add(60 * time.Second).Sub(now)
			if !haveRPMWait || remaining < minRPMWait {
				minRPMWait = remaining
				haveRPMWait = true
			}
		}
		if !rpdOK {
			remaining := untilNextUTCMidnight(now)
			if !haveRPDWait || remaining < minRPDWait {
				minRPDWait = remaining
				haveRPDWait = true
			}
		}
	}

	if haveRPMWait {
		return nil, minRPMWait, waitRPM
	}
	if haveRPDWait {
		return nil, minRPDWait, waitRPD
	}
	return nil, 0, waitNone
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(u)
}

// resetWindowsLocked must be called with mu held.
func (p *Pool) resetWindowsLocked(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	for _, kr := range p.keys {
		if kr.usage.RPMWindowStart.IsZero() || now.Sub(kr.usage.RPMWindowStart) >= 60*time.Second {
			kr.usage.RPMWindowStart = now
			kr.usage.RPMCounter = 0
		}
		if kr.usage.RPDUTCDate != today {
			kr.usage.RPDUTCDate = today
			kr.usage.RPDCounter = 0
		}
	}
}

// ReportSuccess zeroes the consecutive-error count and clears the last
// error summary.
func (p *Pool) ReportSuccess(keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kr := p.keys[keyID]
	if kr == nil {
		return
	}
	kr.usage.ConsecutiveErrorCount = 0
	kr.usage.LastErrorSummary = ""
	kr.usage.LastErrorKind = ""
	kr.usage.LastSuccessTime = p.now()
}

// ReportError classifies the failure, updates cooldown/disable state, and
// may invoke the disabled callback (outside the lock, so it may safely call
// back into the pool).
func (p *Pool) ReportError(keyID, message string, statusCode int, retryAfter time.Duration) {
	var disabledName, disabledReason string
	disable := false

	func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		kr := p.keys[keyID]
		if kr == nil {
			return
		}
		now := p.now()
		kind := classify(statusCode)
		kr.usage.LastErrorSummary = message
		kr.usage.LastErrorKind = kind
		metrics.KeyPoolErrorsTotal.WithLabelValues(p.purpose, string(kind)).Inc()

		shouldDisable := defaultShouldDisable
		if p.shouldDisable != nil {
			shouldDisable = p.shouldDisable
		}

		if shouldDisable(statusCode, kind) {
			kr.usage.Disabled = true
			kr.usage.DisableReason = message
			kr.usage.DisabledAt = now
			disable = true
			disabledName = kr.spec.DisplayName
			disabledReason = message
			metrics.KeyPoolDisabledTotal.WithLabelValues(p.purpose).Inc()
			return
		}

		kr.usage.ConsecutiveErrorCount++
		kr.appendErrorLocked(now)

		if kind == domain.ErrorKindRateLimited {
			d := 10 * time.Second
			if retryAfter > 0 {
				d = retryAfter
			}
			kr.usage.CooldownUntil = now.Add(d)
			kr.usage.CooldownTier = domain.CooldownTierRateLimit
			return
		}

		errorsInWindow := kr.errorsInWindowLocked(now)
		longCooldownLadder := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}

		if kr.usage.ConsecutiveErrorCount >= 3 || errorsInWindow >= 5 {
			idx := kr.usage.ConsecutiveErrorCount - 3
			if idx < 0 {
				idx = 0
			}
			if idx > len(longCooldownLadder)-1 {
				idx = len(longCooldownLadder) - 1
			}
			kr.usage.CooldownUntil = now.Add(longCooldownLadder[idx])
			kr.usage.CooldownTier = domain.CooldownTierLong
			return
		}

		kr.usage.CooldownUntil = now.Add(30 * time.Second)
		kr.usage.CooldownTier = domain.CooldownTierShort
	}()

	if disable && p.onDisabled != nil {
		func() {
			defer func() {
				if r := recover(); r != nil && p.logger != nil {
					p.logger.Warn("keypool: disabled callback panicked",
						slog.String("purpose", p.purpose), slog.Any("recover", r))
				}
			}()
			p.onDisabled(keyID, disabledName, disabledReason)
		}()
	}
}

func classify(statusCode int) domain.ErrorKind {
	switch statusCode {
	case 400:
		return domain.ErrorKindInvalidKey
	case 403:
		return domain.ErrorKindPermissionDenied
	case 404:
		return domain.ErrorKindNotFound
	case 429:
		return domain.ErrorKindRateLimited
	case 500, 503, 504:
		return domain.ErrorKindServer
	default:
		return domain.ErrorKindUnknown
	}
}

// appendErrorLocked must be called with mu held.
func (kr *keyRuntime) appendErrorLocked(now time.Time) {
	head := kr.errHead
	kr.usage.ErrorTimestamps[head] = now
	kr.errHead = (head + 1) % domain.ErrorRingCapacity
	if kr.errLen < domain.ErrorRingCapacity {
		kr.errLen++
	}
}

// errorsInWindowLocked counts ring entries within the sliding window.
func (kr *keyRuntime) errorsInWindowLocked(now time.Time) int {
	count := 0
	for i := 0; i < kr.errLen; i++ {
		idx := (kr.errHead - 1 - i + domain.ErrorRingCapacity) % domain.ErrorRingCapacity
		if now.Sub(kr.usage.ErrorTimestamps[idx]) <= slidingWindow {
			count++
		}
	}
	return count
}

// EnableKey clears disable/cooldown/counters and makes the key reservable again.
func (p *Pool) EnableKey(keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kr := p.keys[keyID]
	if kr == nil {
		return
	}
	kr.usage = domain.KeyUsage{
		RPDUTCDate:      p.now().UTC().Format("2006-01-02"),
		ErrorTimestamps: make([]time.Time, domain.ErrorRingCapacity),
	}
	kr.errHead, kr.errLen = 0, 0
}

// DisableKey marks a key disabled administratively, bypassing error classification.
func (p *Pool) DisableKey(keyID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kr := p.keys[keyID]
	if kr == nil {
		return
	}
	kr.usage.Disabled = true
	kr.usage.DisableReason = reason
	kr.usage.DisabledAt = p.now()
}

// ResetCooldown, ResetRPM, ResetRPD, ResetAllLimits are administrative and
// do not disturb the disable flag.
func (p *Pool) ResetCooldown(keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kr := p.keys[keyID]; kr != nil {
		kr.usage.CooldownUntil = time.Time{}
		kr.usage.CooldownTier = domain.CooldownTierNone
	}
}

func (p *Pool) ResetRPM(keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kr := p.keys[keyID]; kr != nil {
		kr.usage.RPMCounter = 0
		kr.usage.RPMWindowStart = p.now()
	}
}

func (p *Pool) ResetRPD(keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kr := p.keys[keyID]; kr != nil {
		kr.usage.RPDCounter = 0
		kr.usage.RPDUTCDate = p.now().UTC().Format("2006-01-02")
	}
}

func (p *Pool) ResetAllLimits(keyID string) {
	p.ResetCooldown(keyID)
	p.ResetRPM(keyID)
	p.ResetRPD(keyID)
}

// GetStatus returns a point-in-time snapshot of every key's state, plus
// aggregates including AllInLongCooling — the tripwire consumed by the
// Circuit Breaker via the AI Client.
func (p *Pool) GetStatus() domain.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.resetWindowsLocked(now)

	view := domain.PoolStatus{}
	longCoolingOrDisabled := 0

	for _, keyID := range p.order {
		kr := p.keys[keyID]

		state := domain.KeyStateAvailable
		switch {
		case kr.usage.Disabled:
			state = domain.KeyStateDisabled
		case now.Before(kr.usage.CooldownUntil):
			if kr.usage.CooldownTier == domain.CooldownTierLong {
				state = domain.KeyStateLongCooling
			} else {
				state = domain.KeyStateCooling
			}
		}

		rpmBlocked := kr.spec.RPMLimit != 0 && kr.usage.RPMCounter >= kr.spec.RPMLimit
		rpdBlocked := kr.spec.RPDLimit != 0 && kr.usage.RPDCounter >= kr.spec.RPDLimit

		row := domain.KeyStatus{
			KeyID:            keyID,
			DisplayName:      kr.spec.DisplayName,
			State:            state,
			RPMCount:         kr.usage.RPMCounter,
			RPMLimit:         kr.spec.RPMLimit,
			RPDCount:         kr.usage.RPDCounter,
			RPDLimit:         kr.spec.RPDLimit,
			RPMBlocked:       rpmBlocked,
			RPDBlocked:       rpdBlocked,
			ErrorCount:       kr.usage.ConsecutiveErrorCount,
			ErrorsInWindow:   kr.errorsInWindowLocked(now),
			LastErrorKind:    kr.usage.LastErrorKind,
			CooldownUntilUTC: kr.usage.CooldownUntil.UTC(),
		}
		if rpmBlocked {
			row.RPMWindowRemaining = kr.usage.RPMWindowStart.Add(60 * time.Second).Sub(now)
		}
		if now.Before(kr.usage.CooldownUntil) {
			row.CooldownRemaining = kr.usage.CooldownUntil.Sub(now)
		}

		if state == domain.KeyStateAvailable {
			view.AvailableCount++
		}
		if rpmBlocked {
			view.RPMBlockedCount++
		}
		if rpdBlocked {
			view.RPDBlockedCount++
		}
		if state == domain.KeyStateLongCooling || state == domain.KeyStateDisabled {
			longCoolingOrDisabled++
		}

		view.Keys = append(view.Keys, row)
	}

	view.AllInLongCooling = len(p.order) > 0 && longCoolingOrDisabled == len(p.order)
	metrics.KeyPoolAvailableKeys.WithLabelValues(p.purpose).Set(float64(view.AvailableCount))
	return view
}
