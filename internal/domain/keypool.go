package domain

import "time"

// KeySpec is an immutable credential record for one upstream AI key.
type KeySpec struct {
	KeyID          string
	DisplayName    string
	Secret         string
	UpstreamBaseURL string
	ModelName      string
	RPMLimit       int // 0 = unbounded
	RPDLimit       int // 0 = unbounded
	Enabled        bool
}

// KeyUsage is the mutable per-key runtime state tracked by the Key Pool.
type KeyUsage struct {
	RPMCounter     int
	RPMWindowStart time.Time
	RPDCounter     int
	RPDUTCDate     string // YYYY-MM-DD

	ConsecutiveErrorCount int
	LastErrorSummary      string
	LastErrorKind         ErrorKind
	LastSuccessTime       time.Time

	CooldownUntil time.Time
	CooldownTier  CooldownTier

	Disabled     bool
	DisableReason string
	DisabledAt   time.Time

	// ErrorTimestamps is a fixed-capacity ring buffer (capacity 20) over a
	// sliding 300s window, used to detect "≥5 errors in 300s".
	ErrorTimestamps []time.Time
}

const ErrorRingCapacity = 20

// CooldownTier distinguishes why a key is currently cooling down, since
// §4.1's long-cooldown ladder applies only to non-auth, non-rate-limit
// errors — a key sitting out a 429 rate-limit cooldown must never be
// reported as long_cooling, even if ConsecutiveErrorCount has climbed past
// the ladder's threshold from earlier non-429 errors.
type CooldownTier string

const (
	CooldownTierNone      CooldownTier = ""
	CooldownTierRateLimit CooldownTier = "rate_limit"
	CooldownTierShort     CooldownTier = "short"
	CooldownTierLong      CooldownTier = "long"
)

// ErrorKind classifies an upstream failure for cooldown/disable policy.
type ErrorKind string

const (
	ErrorKindInvalidKey       ErrorKind = "invalid_key"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindServer           ErrorKind = "server"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// KeyReservation is the short-lived handoff returned by a successful reserve.
// It carries no lock; accounting was already committed at reserve time.
type KeyReservation struct {
	KeyID           string
	Secret          string
	UpstreamBaseURL string
	ModelName       string
}

// KeyState is the introspection state of a key, as returned by get_status.
type KeyState string

const (
	KeyStateAvailable   KeyState = "available"
	KeyStateCooling     KeyState = "cooling"
	KeyStateLongCooling KeyState = "long_cooling"
	KeyStateDisabled    KeyState = "disabled"
)

// KeyStatus is one row of the Key Pool's get_status() introspection response.
type KeyStatus struct {
	KeyID         string
	DisplayName   string
	State         KeyState
	RPMCount      int
	RPMLimit      int
	RPDCount      int
	RPDLimit      int
	RPMBlocked    bool
	RPMWindowRemaining time.Duration
	RPDBlocked    bool
	CooldownRemaining time.Duration
	ErrorCount    int
	ErrorsInWindow int
	LastErrorKind ErrorKind
	CooldownUntilUTC time.Time
}

// PoolStatus aggregates KeyStatus rows plus the pool-wide tripwire for the
// Circuit Breaker.
type PoolStatus struct {
	Keys              []KeyStatus
	AvailableCount    int
	RPMBlockedCount   int
	RPDBlockedCount   int
	AllInLongCooling  bool
}
