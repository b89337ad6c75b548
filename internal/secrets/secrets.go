// Package secrets implements the reference resolver of spec.md section
// 4.3: parsing `{{ bw:item-id:field }}` notation, resolving it against
// the vault, caching resolved values per session for the session's
// lifetime, and purging that cache when the session ends.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/vault"
)

// referencePattern is the Go regexp equivalent of SecretManager's
// REFERENCE_PATTERN in original_source/backend/app/services/secrets.py.
var referencePattern = regexp.MustCompile(`\{\{\s*bw:([^:]+):([^}]+)\s*\}\}`)

type cacheEntry struct {
	value  string
	expiry time.Time
}

// Resolver resolves vault references and caches results per session.
type Resolver struct {
	vault Client
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]map[string]cacheEntry // sessionID -> cacheKey -> entry
}

// Client is the subset of vault.Client the resolver depends on.
type Client interface {
	GetItem(ctx context.Context, handle, itemID string) (*vault.Item, error)
}

// New builds a Resolver. ttl is the per-entry cache lifetime, driven by
// the session idle timeout per spec.md section 4.3.
func New(client Client, ttl time.Duration) *Resolver {
	return &Resolver{
		vault: client,
		ttl:   ttl,
		cache: make(map[string]map[string]cacheEntry),
	}
}

// IsValidReference reports whether s matches the `{{ bw:item:field }}`
// notation.
func IsValidReference(s string) bool {
	return referencePattern.MatchString(s)
}

// ParseReference extracts the item id and field name from a reference
// string, trimming surrounding whitespace from each component.
func ParseReference(reference string) (itemID, field string, err error) {
	m := referencePattern.FindStringSubmatch(reference)
	if m == nil {
		return "", "", errs.New(errs.KindSecret, fmt.Sprintf("invalid vault reference format: %q", reference))
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), nil
}

func cacheKey(itemID, field string) string {
	return itemID + ":" + field
}

func (r *Resolver) getFromCache(sessionID, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.cache[sessionID]
	if !ok {
		return "", false
	}
	entry, ok := session[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiry) {
		delete(session, key)
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) setCache(sessionID, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.cache[sessionID]
	if !ok {
		session = make(map[string]cacheEntry)
		r.cache[sessionID] = session
	}
	session[key] = cacheEntry{value: value, expiry: time.Now().Add(r.ttl)}
}

// OnSessionEnd purges every cached secret for sessionID. Registered as an
// observer on the session manager's end-of-session notification so
// resolved secrets never outlive the session that requested them.
func (r *Resolver) OnSessionEnd(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, sessionID)
}

// ResolveReference resolves a single `{{ bw:item:field }}` reference,
// consulting (and populating) the per-session cache.
func (r *Resolver) ResolveReference(ctx context.Context, reference, sessionID, vaultHandle string) (string, error) {
	itemID, field, err := ParseReference(reference)
	if err != nil {
		return "", err
	}

	key := cacheKey(itemID, field)
	if cached, ok := r.getFromCache(sessionID, key); ok {
		return cached, nil
	}

	item, err := r.vault.GetItem(ctx, vaultHandle, itemID)
	if err != nil {
		return "", errs.Wrap(errs.KindSecret, fmt.Sprintf("fetching vault item %q", itemID), err)
	}

	value, err := extractField(item, field)
	if err != nil {
		return "", err
	}

	r.setCache(sessionID, key, value)
	return value, nil
}

// extractField pulls field out of the decoded vault item payload using
// jsonpath, per the well-known field mapping: password/username/totp live
// under login, notes is top-level, and any other name is looked up among
// the item's custom fields array.
func extractField(item *vault.Item, field string) (string, error) {
	var decoded any
	if err := json.Unmarshal(item.Raw, &decoded); err != nil {
		return "", errs.Wrap(errs.KindSecret, "decoding vault item payload", err)
	}

	v, err := jsonpath.Get(jsonPathFor(field), decoded)
	if err != nil {
		return "", errs.New(errs.KindSecret, fmt.Sprintf("field %q not found in vault item", field))
	}
	return asString(v, field)
}

func asString(v any, field string) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []any:
		if len(val) == 0 {
			return "", errs.New(errs.KindSecret, fmt.Sprintf("field %q not found in vault item", field))
		}
		return asString(val[0], field)
	default:
		return "", errs.New(errs.KindSecret, fmt.Sprintf("field %q is not a string value", field))
	}
}

// jsonPathFor maps a field name to the jsonpath expression that locates
// it in a decoded vault item, per the well-known field mapping in
// SecretManager._extract_field_value: password/username/totp live under
// login, notes is top-level, anything else is a custom field lookup.
func jsonPathFor(field string) string {
	switch field {
	case "password":
		return "$.login.password"
	case "username":
		return "$.login.username"
	case "totp":
		return "$.login.totp"
	case "notes":
		return "$.notes"
	default:
		return fmt.Sprintf(`$.fields[?(@.name=="%s")].value`, field)
	}
}

// ResolveAll walks config recursively, replacing every string value that
// matches the reference notation with its resolved secret, descending
// into nested maps and slices exactly as SecretManager.resolve_all does.
func (r *Resolver) ResolveAll(ctx context.Context, config map[string]any, sessionID, vaultHandle string) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		resolved, err := r.resolveValue(ctx, v, sessionID, vaultHandle)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveValue(ctx context.Context, v any, sessionID, vaultHandle string) (any, error) {
	switch val := v.(type) {
	case string:
		if IsValidReference(val) {
			return r.ResolveReference(ctx, val, sessionID, vaultHandle)
		}
		return val, nil
	case map[string]any:
		return r.ResolveAll(ctx, val, sessionID, vaultHandle)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(ctx, item, sessionID, vaultHandle)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
