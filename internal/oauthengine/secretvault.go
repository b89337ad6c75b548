package oauthengine

import "sync"

// tokenPair is what the in-memory secret map of spec.md section 4.6 holds
// for a credential_key: the plaintext access/refresh tokens never reach
// the persisted Credential row, only an opaque TokenRef pointing here.
type tokenPair struct {
	accessToken  string
	refreshToken string
}

// secretVault is a process-local, mutex-guarded map from credential_key to
// its token pair. It never survives a restart, matching the teacher's
// pattern in internal/secrets of keeping resolved secrets out of the
// database entirely.
type secretVault struct {
	mu    sync.RWMutex
	pairs map[string]tokenPair
}

func newSecretVault() *secretVault {
	return &secretVault{pairs: make(map[string]tokenPair)}
}

func (v *secretVault) put(key string, pair tokenPair) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pairs[key] = pair
}

func (v *secretVault) get(key string) (tokenPair, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.pairs[key]
	return p, ok
}

func (v *secretVault) delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pairs, key)
}

// deleteAll invalidates every credential currently known, per
// update_permitted_scopes's "invalidate every credential currently known".
func (v *secretVault) deleteAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pairs = make(map[string]tokenPair)
}
