package redis

import "strings"

const keyNamespace = "gridpay"

// Key families. Every key the ledger writes lives under one of these.
const (
	familyIdempotency = "idem"
	familyRateLimit   = "rl"
	familyLock        = "lock"
)

// IdempotencyKey namespaces a replay-cache entry for a client-supplied key.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(familyIdempotency, scope, id)
}

// RateLimitKey namespaces a fixed-window counter.
func (c *Client) RateLimitKey(scope string) string {
	return joinKey(familyRateLimit, scope)
}

// LockKey namespaces a cross-replica lock. An empty scope is dropped.
func (c *Client) LockKey(name, scope string) string {
	return joinKey(familyLock, name, scope)
}

func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
