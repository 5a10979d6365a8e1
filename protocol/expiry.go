package protocol

import "time"

var defaultTTLs = map[string]time.Duration{
	TypeStationHeartbeat: 90 * time.Second,
	TypeStationRegister:  5 * time.Minute,

	// A start request that sat in a broker for longer than this is stale; the
	// operator has likely retried or moved on.
	TypeTaskStart: 2 * time.Minute,
	TypeTaskAbort: 2 * time.Minute,

	TypeTaskStatus: 30 * time.Minute,
}

// FallbackTTL applies to types without a specific TTL.
const FallbackTTL = 10 * time.Minute

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired reports whether env has passed its expiry. A zero expiry never
// expires.
func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(at time.Time) bool {
	return !at.IsZero() && time.Now().UTC().After(at)
}
