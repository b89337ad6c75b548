package oauthengine

import (
	"strings"
	"sync"
)

// ScopePolicy is the mutable set of permitted scope tokens of spec.md
// section 4.6. Entries ending in "*" are prefix patterns; everything else
// is matched by exact equality.
type ScopePolicy struct {
	mu        sync.RWMutex
	permitted []string
}

// NewScopePolicy builds a policy seeded with the given permitted scopes.
func NewScopePolicy(permitted []string) *ScopePolicy {
	return &ScopePolicy{permitted: append([]string(nil), permitted...)}
}

func (p *ScopePolicy) snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.permitted...)
}

func (p *ScopePolicy) replace(scopes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permitted = append([]string(nil), scopes...)
}

func (p *ScopePolicy) allows(scope string) bool {
	for _, entry := range p.snapshot() {
		if strings.HasSuffix(entry, "*") {
			if strings.HasPrefix(scope, strings.TrimSuffix(entry, "*")) {
				return true
			}
			continue
		}
		if entry == scope {
			return true
		}
	}
	return false
}

// missingScopes returns the subset of requested not covered by the policy.
func (p *ScopePolicy) missingScopes(requested []string) []string {
	var missing []string
	for _, s := range requested {
		if !p.allows(s) {
			missing = append(missing, s)
		}
	}
	return missing
}
