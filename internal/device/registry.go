// Package device tracks, per student, the ordered set of admitted devices and
// the live session token of each one.
//
// Registry is a pure value: it is loaded from the store, mutated in memory,
// and written back under an optimistic version check by Service.
package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"
	"time"
)

// Token is the stored form of a session token. Only the digest is kept.
type Token struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Registry struct {
	Limit   int
	Devices []string
	Tokens  map[string]Token
}

// Admission reports the outcome of Admit. Admitted is always true: overflow
// is resolved by evicting the oldest devices, never by rejecting the new one.
type Admission struct {
	Admitted bool
	Known    bool
	Evicted  []string
}

// HashToken returns the hex SHA-256 digest stored for a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Normalize restores the device/token pairing on data written before both
// collections were maintained together. Devices without a token are dropped,
// as are tokens of unknown devices and duplicate device entries.
func (r *Registry) Normalize() {
	if r.Tokens == nil {
		r.Tokens = make(map[string]Token)
	}
	seen := make(map[string]struct{}, len(r.Devices))
	devices := r.Devices[:0]
	for _, d := range r.Devices {
		if _, dup := seen[d]; dup {
			continue
		}
		if _, ok := r.Tokens[d]; !ok {
			continue
		}
		seen[d] = struct{}{}
		devices = append(devices, d)
	}
	r.Devices = devices
	for d := range r.Tokens {
		if _, ok := seen[d]; !ok {
			delete(r.Tokens, d)
		}
	}
}

// Admit binds token to deviceID. A known device keeps its position and only
// has its token replaced. A new device evicts from the front until there is
// room, then joins at the back. A limit lowered since the last admission is
// applied here, so several devices may be evicted at once.
func (r *Registry) Admit(deviceID string, token Token) Admission {
	r.Normalize()

	if _, ok := r.Tokens[deviceID]; ok {
		r.Tokens[deviceID] = token
		return Admission{Admitted: true, Known: true}
	}

	limit := r.Limit
	if limit < 1 {
		limit = 1
	}

	var evicted []string
	for len(r.Devices) >= limit {
		oldest := r.Devices[0]
		r.Devices = r.Devices[1:]
		delete(r.Tokens, oldest)
		evicted = append(evicted, oldest)
	}

	r.Devices = append(r.Devices, deviceID)
	r.Tokens[deviceID] = token

	return Admission{Admitted: true, Evicted: evicted}
}

// Revoke removes deviceID and its token. It reports whether anything changed.
func (r *Registry) Revoke(deviceID string) bool {
	r.Normalize()

	idx := slices.Index(r.Devices, deviceID)
	if idx < 0 {
		return false
	}
	r.Devices = slices.Delete(r.Devices, idx, idx+1)
	delete(r.Tokens, deviceID)
	return true
}

// IsLive reports whether tokenHash is the current token of deviceID and has
// not expired at now.
func (r *Registry) IsLive(deviceID, tokenHash string, now time.Time) bool {
	stored, ok := r.Tokens[deviceID]
	if !ok || !slices.Contains(r.Devices, deviceID) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored.Hash), []byte(tokenHash)) != 1 {
		return false
	}
	return now.Before(stored.ExpiresAt)
}

func (r *Registry) Len() int {
	return len(r.Devices)
}
