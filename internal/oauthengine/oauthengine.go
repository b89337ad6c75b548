// Package oauthengine implements the authorization-code-with-PKCE flow of
// spec.md section 4.6, generalized off the teacher's single
// GitHub-flavored cmd/docker-mcp/internal/oauth/exchange.go into a
// provider-agnostic state machine: every authorize/token URL, client ID,
// and redirect URI is a per-call parameter rather than baked into the
// package.
package oauthengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/retrypolicy"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/validate"
)

const (
	defaultStateTTL         = 10 * time.Minute
	defaultRefreshThreshold = 15 * time.Minute
	defaultExpiresIn        = 3600
)

// HTTPDoer is the subset of *http.Client the engine needs; tests supply a
// fake to avoid a real token endpoint.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Store is the subset of internal/store the engine depends on.
type Store interface {
	CreateOAuthState(ctx context.Context, r store.OAuthStateRecord) error
	ConsumeOAuthState(ctx context.Context, state string) (*store.OAuthStateRecord, error)
	CreateCredential(ctx context.Context, c store.Credential) error
	GetCredential(ctx context.Context, key string) (*store.Credential, error)
	DeleteCredential(ctx context.Context, key string) error
	ListCredentials(ctx context.Context) ([]store.Credential, error)
	RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error
}

// Engine is the OAuth state machine of spec.md section 4.6.
type Engine struct {
	store            Store
	http             HTTPDoer
	vault            *secretVault
	policy           *ScopePolicy
	now              func() time.Time
	newState         func() (string, error)
	newCredentialKey func() string
	stateTTL         time.Duration
	refreshThreshold time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithHTTPDoer(d HTTPDoer) Option        { return func(e *Engine) { e.http = d } }
func WithStateGenerator(f func() (string, error)) Option {
	return func(e *Engine) { e.newState = f }
}
func WithCredentialKeyGenerator(f func() string) Option {
	return func(e *Engine) { e.newCredentialKey = f }
}
func WithStateTTL(d time.Duration) Option         { return func(e *Engine) { e.stateTTL = d } }
func WithRefreshThreshold(d time.Duration) Option { return func(e *Engine) { e.refreshThreshold = d } }

// New builds an Engine. permittedScopes seeds the scope policy.
func New(st Store, permittedScopes []string, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		http:             http.DefaultClient,
		vault:            newSecretVault(),
		policy:           NewScopePolicy(permittedScopes),
		now:              time.Now,
		newState:         GenerateState,
		newCredentialKey: uuid.NewString,
		stateTTL:         defaultStateTTL,
		refreshThreshold: defaultRefreshThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartAuthRequest is start_auth's input, validated with struct tags via
// internal/validate instead of hand-rolled if-chains.
type StartAuthRequest struct {
	ServerID            string  `validate:"required"`
	Scopes              []string `validate:"omitempty"`
	CodeChallenge       *string `validate:"omitempty"`
	CodeChallengeMethod *string `validate:"required_with=CodeChallenge,omitempty,oneof=S256 plain"`
	AuthorizeURL        string  `validate:"required,url"`
	TokenURL            string  `validate:"required,url"`
	ClientID            string  `validate:"required"`
	RedirectURI         string  `validate:"required,url"`
	Actor               string  `validate:"required"`
}

// StartAuthResult is start_auth's output.
type StartAuthResult struct {
	AuthURL        string
	State          string
	RequiredScopes []string
}

// StartAuth implements spec.md's start_auth operation.
func (e *Engine) StartAuth(ctx context.Context, req StartAuthRequest) (*StartAuthResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if missing := e.policy.missingScopes(req.Scopes); len(missing) > 0 {
		e.store.RecordAuditLog(ctx, "oauth", "scope_denied", req.Actor, req.ServerID,
			map[string]any{"missing": missing}, nil)
		return nil, errs.WithDetail(errs.New(errs.KindScopeNotAllowed, "scope not allowed"),
			strings.Join(missing, ","))
	}

	state, err := e.newState()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(req.Scopes, " "))
	if req.CodeChallenge != nil {
		q.Set("code_challenge", *req.CodeChallenge)
		q.Set("code_challenge_method", *req.CodeChallengeMethod)
	}
	authURL := req.AuthorizeURL + "?" + q.Encode()

	now := e.now()
	rec := store.OAuthStateRecord{
		State:               state,
		ServerID:            req.ServerID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              store.StringSlice(req.Scopes),
		AuthorizeURL:        req.AuthorizeURL,
		TokenURL:            req.TokenURL,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		ExpiresAt:           now.Add(e.stateTTL),
		CreatedAt:           now,
	}
	if err := e.store.CreateOAuthState(ctx, rec); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting oauth state", err)
	}

	return &StartAuthResult{AuthURL: authURL, State: state, RequiredScopes: req.Scopes}, nil
}

// ExchangeTokenRequest is exchange_token's input.
type ExchangeTokenRequest struct {
	Code         string
	State        string
	ServerID     *string
	CodeVerifier *string
	Actor        string
}

// ExchangeTokenResult is exchange_token's output.
type ExchangeTokenResult struct {
	Status        string
	Scope         []string
	ExpiresIn     int
	CredentialKey string
	ExpiresAt     time.Time
}

// ExchangeToken implements spec.md's exchange_token operation.
func (e *Engine) ExchangeToken(ctx context.Context, req ExchangeTokenRequest) (*ExchangeTokenResult, error) {
	rec, err := e.store.ConsumeOAuthState(ctx, req.State)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "consuming oauth state", err)
	}
	if rec == nil {
		return nil, errs.New(errs.KindOAuthStateMismatch, "state mismatch")
	}
	if req.ServerID != nil && *req.ServerID != rec.ServerID {
		return nil, errs.New(errs.KindOAuthStateMismatch, "state mismatch")
	}

	if rec.CodeChallenge != nil {
		if req.CodeVerifier == nil {
			return nil, errs.New(errs.KindValidation, "code_verifier required")
		}
		method := "S256"
		if rec.CodeChallengeMethod != nil {
			method = *rec.CodeChallengeMethod
		}
		if !verifyChallenge(method, *rec.CodeChallenge, *req.CodeVerifier) {
			return nil, errs.New(errs.KindOAuthStateMismatch, "code verifier mismatch")
		}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", rec.RedirectURI)
	form.Set("client_id", rec.ClientID)
	if req.CodeVerifier != nil {
		form.Set("code_verifier", *req.CodeVerifier)
	}

	tok, err := e.postTokenRequest(ctx, rec.TokenURL, form, retrypolicy.TokenExchangeSchedule)
	if err != nil {
		return nil, err
	}

	scopes := scopesFromToken(tok, []string(rec.Scopes))
	expiresIn := expiresInFromToken(tok)
	expiresAt := e.now().Add(time.Duration(expiresIn) * time.Second)
	credentialKey := e.newCredentialKey()

	tokenRef := store.TokenRef{Kind: "oauth2", Ref: credentialKey}
	refJSON, err := json.Marshal(tokenRef)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encoding token ref", err)
	}

	tokenURL := rec.TokenURL
	clientID := rec.ClientID
	cred := store.Credential{
		CredentialKey: credentialKey,
		TokenRefJSON:  string(refJSON),
		Scopes:        store.StringSlice(scopes),
		ExpiresAt:     expiresAt,
		ServerID:      rec.ServerID,
		OAuthTokenURL: &tokenURL,
		OAuthClientID: &clientID,
		CreatedBy:     req.Actor,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateCredential(ctx, cred); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting credential", err)
	}

	e.vault.put(credentialKey, tokenPair{accessToken: tok.AccessToken, refreshToken: tok.RefreshToken})

	e.store.RecordAuditLog(ctx, "oauth", "token_saved", req.Actor, rec.ServerID,
		map[string]any{"credential_key": credentialKey}, nil)

	return &ExchangeTokenResult{
		Status:        "authorized",
		Scope:         scopes,
		ExpiresIn:     expiresIn,
		CredentialKey: credentialKey,
		ExpiresAt:     expiresAt,
	}, nil
}

// RefreshRequest is refresh_token's input.
type RefreshRequest struct {
	ServerID      string
	CredentialKey string
	Actor         string
}

// RefreshResult is refresh_token's output.
type RefreshResult struct {
	Refreshed     bool
	CredentialKey string
	ExpiresAt     time.Time
}

// RefreshToken implements spec.md's refresh_token operation.
func (e *Engine) RefreshToken(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	cred, err := e.store.GetCredential(ctx, req.CredentialKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading credential", err)
	}
	if cred == nil {
		return nil, errs.New(errs.KindCredentialNotFound, "credential not found")
	}

	if cred.ExpiresAt.Sub(e.now()) > e.refreshThreshold {
		return &RefreshResult{Refreshed: false}, nil
	}

	pair, ok := e.vault.get(req.CredentialKey)
	if !ok || pair.refreshToken == "" {
		e.store.DeleteCredential(ctx, req.CredentialKey)
		e.vault.delete(req.CredentialKey)
		return nil, errs.New(errs.KindOAuthInvalidGrant, "invalid grant")
	}

	clientID := ""
	if cred.OAuthClientID != nil {
		clientID = *cred.OAuthClientID
	}
	tokenURL := ""
	if cred.OAuthTokenURL != nil {
		tokenURL = *cred.OAuthTokenURL
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", pair.refreshToken)
	form.Set("client_id", clientID)

	tok, err := e.postTokenRequest(ctx, tokenURL, form, retrypolicy.RefreshSchedule)
	if err != nil {
		if k, ok := errs.KindOf(err); ok && k == errs.KindOAuthProviderError {
			e.store.DeleteCredential(ctx, req.CredentialKey)
			e.vault.delete(req.CredentialKey)
			return nil, errs.New(errs.KindOAuthInvalidGrant, "invalid grant")
		}
		return nil, err
	}

	e.store.DeleteCredential(ctx, req.CredentialKey)
	e.vault.delete(req.CredentialKey)

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = pair.refreshToken
	}

	scopes := scopesFromToken(tok, []string(cred.Scopes))
	expiresIn := expiresInFromToken(tok)
	expiresAt := e.now().Add(time.Duration(expiresIn) * time.Second)
	newKey := e.newCredentialKey()

	tokenRef := store.TokenRef{Kind: "oauth2", Ref: newKey}
	refJSON, err := json.Marshal(tokenRef)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encoding token ref", err)
	}

	newCred := store.Credential{
		CredentialKey: newKey,
		TokenRefJSON:  string(refJSON),
		Scopes:        store.StringSlice(scopes),
		ExpiresAt:     expiresAt,
		ServerID:      cred.ServerID,
		OAuthTokenURL: cred.OAuthTokenURL,
		OAuthClientID: cred.OAuthClientID,
		CreatedBy:     cred.CreatedBy,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateCredential(ctx, newCred); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting refreshed credential", err)
	}
	e.vault.put(newKey, tokenPair{accessToken: tok.AccessToken, refreshToken: newRefresh})

	e.store.RecordAuditLog(ctx, "oauth", "token_refreshed", req.Actor, cred.ServerID,
		map[string]any{"old_credential_key": req.CredentialKey, "new_credential_key": newKey}, nil)

	return &RefreshResult{Refreshed: true, CredentialKey: newKey, ExpiresAt: expiresAt}, nil
}

// UpdateScopesRequest is update_permitted_scopes's input.
type UpdateScopesRequest struct {
	Scopes        []string
	IsAdmin       bool
	Actor         string
	CorrelationID *string
}

// UpdatePermittedScopes implements spec.md's update_permitted_scopes
// operation.
func (e *Engine) UpdatePermittedScopes(ctx context.Context, req UpdateScopesRequest) error {
	if !req.IsAdmin {
		e.store.RecordAuditLog(ctx, "oauth", "scope_update_forbidden", req.Actor, "", nil, req.CorrelationID)
		return errs.New(errs.KindAuth, "admin required to update scope policy")
	}

	e.policy.replace(req.Scopes)
	e.vault.deleteAll()

	if creds, err := e.store.ListCredentials(ctx); err == nil {
		for _, c := range creds {
			e.store.DeleteCredential(ctx, c.CredentialKey)
		}
	}

	e.store.RecordAuditLog(ctx, "oauth", "scope_updated", req.Actor, "",
		map[string]any{"scopes": req.Scopes}, req.CorrelationID)
	return nil
}

// AccessToken returns the plaintext access token held for credentialKey,
// satisfying internal/remotemcp's TokenProvider seam without that package
// reaching into this one's private vault.
func (e *Engine) AccessToken(credentialKey string) (string, bool) {
	pair, ok := e.vault.get(credentialKey)
	return pair.accessToken, ok
}

// postTokenRequest posts a token-endpoint form body, classifying 4xx as a
// non-retryable provider error and 5xx/network failures as retryable
// provider-unavailable, per spec.md section 4.6.
func (e *Engine) postTokenRequest(ctx context.Context, tokenURL string, form url.Values, schedule retrypolicy.Schedule) (*oauth2.Token, error) {
	var result *oauth2.Token
	_, err := retrypolicy.Run(ctx, schedule, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if reqErr != nil {
			return errs.Wrap(errs.KindInternal, "building token request", reqErr)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, doErr := e.http.Do(req)
		if doErr != nil {
			return errs.Wrap(errs.KindOAuthProviderDown, "provider unavailable", doErr)
		}
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return errs.Wrap(errs.KindOAuthProviderDown, "provider unavailable", readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			tok, perr := parseTokenResponse(body)
			if perr != nil {
				return perr
			}
			result = tok
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			rerr := &oauth2.RetrieveError{Response: resp, Body: body}
			_ = json.Unmarshal(body, rerr)
			return errs.Wrap(errs.KindOAuthProviderError, "provider error", rerr)
		default:
			return errs.Wrap(errs.KindOAuthProviderDown, "provider unavailable", fmt.Errorf("status %d", resp.StatusCode))
		}
	}, func(err error) bool {
		k, ok := errs.KindOf(err)
		return ok && k == errs.KindOAuthProviderDown
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseTokenResponse decodes a token endpoint's JSON body into an
// oauth2.Token, using WithExtra to retain scope/expires_in for the
// caller-specific fields the stdlib oauth2.Token doesn't name directly.
func parseTokenResponse(body []byte) (*oauth2.Token, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.KindOAuthProviderError, "decoding token response", err)
	}
	tok := &oauth2.Token{}
	if v, ok := raw["access_token"].(string); ok {
		tok.AccessToken = v
	}
	if v, ok := raw["token_type"].(string); ok {
		tok.TokenType = v
	}
	if v, ok := raw["refresh_token"].(string); ok {
		tok.RefreshToken = v
	}
	tok = tok.WithExtra(raw)
	if tok.AccessToken == "" {
		return nil, errs.New(errs.KindOAuthProviderError, "no access token in response")
	}
	return tok, nil
}

func scopesFromToken(tok *oauth2.Token, fallback []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return fallback
}

func expiresInFromToken(tok *oauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultExpiresIn
	}
}
