// Package rotation implements the upstream credential pool and the
// rotation manager that drives failover between credentials.
package rotation

import (
	"time"
)

// Credential is one upstream access record. Immutable after pool build;
// rotation only changes which index is current and which are failed.
type Credential struct {
	Name    string `json:"name"`
	Token   string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Pool is the ordered credential list plus failure bookkeeping. It is not
// safe for concurrent use: the Manager serializes all access behind one
// mutex so the skip-and-maybe-clear scan in Current sees a consistent view
// of the index and the failed set together.
type Pool struct {
	creds        []Credential
	current      int
	failed       map[int]struct{}
	lastRotation time.Time
}

// NewPool builds a pool over creds. The first entry starts current.
func NewPool(creds []Credential) *Pool {
	return &Pool{
		creds:  creds,
		failed: make(map[int]struct{}),
	}
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int { return len(p.creds) }

// CurrentIndex returns the index currently considered active. Meaningless
// when the pool is empty.
func (p *Pool) CurrentIndex() int { return p.current }

// FailedCount returns how many indices are currently marked failed.
func (p *Pool) FailedCount() int { return len(p.failed) }

// IsFailed reports whether index is marked failed.
func (p *Pool) IsFailed(index int) bool {
	_, ok := p.failed[index]
	return ok
}

// LastRotation returns the time of the most recent rotation.
func (p *Pool) LastRotation() time.Time { return p.lastRotation }

// Current returns the active credential and its index. Starting at the
// current index it scans forward (wrapping) past failed entries. When every
// entry is failed the failure marks are cleared — they are optimistic hints,
// not permanent bans — and the credential at the unchanged current index is
// returned. ok is false only for an empty pool.
func (p *Pool) Current() (cred Credential, index int, ok bool) {
	if len(p.creds) == 0 {
		return Credential{}, 0, false
	}

	if i, found := p.peek(); found {
		return p.creds[i], i, true
	}

	// Exhausted: every credential is marked failed. Reset the marks and
	// fall back to the unchanged current index.
	p.failed = make(map[int]struct{})
	return p.creds[p.current], p.current, true
}

// peek resolves the effective active index without mutating the pool.
func (p *Pool) peek() (int, bool) {
	for step := 0; step < len(p.creds); step++ {
		i := (p.current + step) % len(p.creds)
		if _, bad := p.failed[i]; !bad {
			return i, true
		}
	}
	return -1, false
}

// MarkFailed records index as unusable. It never advances the current
// index; advancing is the Manager's job. No-op on an empty pool or an
// out-of-range index.
func (p *Pool) MarkFailed(index int) {
	if index < 0 || index >= len(p.creds) {
		return
	}
	p.failed[index] = struct{}{}
}

// Rotate advances the current index by one (wrapping) and records the
// rotation time. Returns false only when the pool is empty.
func (p *Pool) Rotate(now time.Time) bool {
	if len(p.creds) == 0 {
		return false
	}
	p.current = (p.current + 1) % len(p.creds)
	p.lastRotation = now
	return true
}

// Snapshot returns the per-credential status list: the effective active
// index is "active", failed indices are "failed", the rest "available".
func (p *Pool) Snapshot() []CredentialStatus {
	activeIndex := -1
	if len(p.creds) > 0 {
		// Resolve the active index without triggering the exhaustion reset;
		// status reads must stay side-effect free.
		if i, found := p.peek(); found {
			activeIndex = i
		} else {
			activeIndex = p.current
		}
	}

	statuses := make([]CredentialStatus, len(p.creds))
	for i, c := range p.creds {
		state := "available"
		if _, bad := p.failed[i]; bad {
			state = "failed"
		}
		if i == activeIndex && state != "failed" {
			state = "active"
		}
		statuses[i] = CredentialStatus{Index: i, Name: c.Name, State: state}
	}
	return statuses
}

// CredentialStatus is one row of the status snapshot.
type CredentialStatus struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	State string `json:"state"` // "active", "available" or "failed"
}
