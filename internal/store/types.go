package store

import "time"

// TokenRef is the tagged variant persisted in Credential.token_ref_json.
// The plaintext access/refresh tokens never appear here — only an opaque
// key into the in-memory secret vault (internal/oauthengine/secretvault.go).
type TokenRef struct {
	Kind string `json:"kind"` // "oauth2"
	Ref  string `json:"ref"`  // opaque lookup key
}

// MTLSCertRef is the tagged variant persisted in
// ExecSession.mtls_cert_ref_json.
type MTLSCertRef struct {
	Kind     string `json:"kind"` // "file-bundle" or "placeholder"
	CAPath   string `json:"ca_path"`
	CertPath string `json:"cert_path"`
	KeyPath  string `json:"key_path"`
}

// OutputRef is the tagged variant persisted in Job.output_ref_json.
type OutputRef struct {
	Kind   string `json:"kind"` // "inline"
	Output string `json:"output"`
}

// SignaturePolicyPayload is the tagged variant persisted in
// SignaturePolicyRecord.payload_json.
type SignaturePolicyPayload struct {
	Mode           string   `json:"mode"` // "audit-only" | "enforcing"
	PermitUnsigned []string `json:"permit_unsigned"`
}

// FeatureFlags is the tagged variant persisted in
// ExecSession.feature_flags_json.
type FeatureFlags struct {
	PlaceholderMode bool `json:"placeholder_mode"`
}

type LoginSession struct {
	SessionID         string    `db:"session_id"`
	UserEmail         string    `db:"user_email"`
	VaultUnlockHandle string    `db:"vault_unlock_handle"`
	CreatedAt         time.Time `db:"created_at"`
	ExpiresAt         time.Time `db:"expires_at"`
	LastActivity      time.Time `db:"last_activity"`
}

type ContainerConfigRecord struct {
	ContainerID string    `db:"container_id"`
	Name        string    `db:"name"`
	Image       string    `db:"image"`
	ConfigJSON  string    `db:"config_json"`
	CreatedAt   time.Time `db:"created_at"`
}

const (
	ExecSessionStateRunning = "running"
	ExecSessionStateStopped = "stopped"
)

type ExecSession struct {
	SessionID        string    `db:"session_id"`
	ServerID         string    `db:"server_id"`
	ConfigJSON       string    `db:"config_json"`
	State            string    `db:"state"`
	IdleDeadline     time.Time `db:"idle_deadline"`
	GatewayEndpoint  string    `db:"gateway_endpoint"`
	MetricsEndpoint  string    `db:"metrics_endpoint"`
	MTLSCertRefJSON  string    `db:"mtls_cert_ref_json"`
	FeatureFlagsJSON string    `db:"feature_flags_json"`
	CreatedAt        time.Time `db:"created_at"`
}

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	JobID         string     `db:"job_id"`
	SessionID     string     `db:"session_id"`
	Status        string     `db:"status"`
	QueuedAt      time.Time  `db:"queued_at"`
	StartedAt     *time.Time `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	ExitCode      *int       `db:"exit_code"`
	TimeoutFlag   bool       `db:"timeout_flag"`
	TruncatedFlag bool       `db:"truncated_flag"`
	OutputRefJSON *string    `db:"output_ref_json"`
}

type Credential struct {
	CredentialKey string      `db:"credential_key"`
	TokenRefJSON  string      `db:"token_ref_json"`
	Scopes        StringSlice `db:"scopes"`
	ExpiresAt     time.Time   `db:"expires_at"`
	ServerID      string      `db:"server_id"`
	OAuthTokenURL *string     `db:"oauth_token_url"`
	OAuthClientID *string     `db:"oauth_client_id"`
	CreatedBy     string      `db:"created_by"`
	CreatedAt     time.Time   `db:"created_at"`
}

type OAuthStateRecord struct {
	State               string      `db:"state"`
	ServerID            string      `db:"server_id"`
	CodeChallenge       *string     `db:"code_challenge"`
	CodeChallengeMethod *string     `db:"code_challenge_method"`
	Scopes              StringSlice `db:"scopes"`
	AuthorizeURL        string      `db:"authorize_url"`
	TokenURL            string      `db:"token_url"`
	ClientID            string      `db:"client_id"`
	RedirectURI         string      `db:"redirect_uri"`
	ExpiresAt           time.Time   `db:"expires_at"`
	CreatedAt           time.Time   `db:"created_at"`
}

const (
	RemoteServerUnregistered  = "unregistered"
	RemoteServerRegistered    = "registered"
	RemoteServerAuthRequired  = "auth_required"
	RemoteServerAuthenticated = "authenticated"
	RemoteServerDisabled      = "disabled"
	RemoteServerError         = "error"
)

type RemoteServer struct {
	ServerID        string    `db:"server_id"`
	CatalogItemID   string    `db:"catalog_item_id"`
	Name            string    `db:"name"`
	Endpoint        string    `db:"endpoint"`
	Status          string    `db:"status"`
	CredentialKey   *string   `db:"credential_key"`
	LastConnectedAt *time.Time `db:"last_connected_at"`
	ErrorMessage    *string   `db:"error_message"`
	CreatedAt       time.Time `db:"created_at"`
}

const (
	AllowEntryTypeDomain  = "domain"
	AllowEntryTypePattern = "pattern"
	AllowEntryTypeService = "service"
)

type GatewayAllowEntry struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Value     string    `db:"value"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	Enabled   bool      `db:"enabled"`
	Version   int       `db:"version"`
}

type GitHubToken struct {
	ID           int64     `db:"id"`
	TokenRefJSON string    `db:"token_ref_json"`
	Source       string    `db:"source"`
	UpdatedBy    string    `db:"updated_by"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type SignaturePolicyRecord struct {
	ServerID    string    `db:"server_id"`
	PayloadJSON string    `db:"payload_json"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type AuditLog struct {
	ID            int64     `db:"id"`
	Category      string    `db:"category"`
	Action        string    `db:"action"`
	Actor         string    `db:"actor"`
	Target        string    `db:"target"`
	MetadataJSON  string    `db:"metadata_json"`
	CreatedAt     time.Time `db:"created_at"`
	CorrelationID *string   `db:"correlation_id"`
}

type Gateway struct {
	GatewayID            string     `db:"gateway_id"`
	URL                  string     `db:"url"`
	TokenRefJSON         *string    `db:"token_ref_json"`
	ProbeIntervalSeconds int        `db:"probe_interval_seconds"`
	PeriodicEnabled      bool       `db:"periodic_enabled"`
	LastStatus           *string    `db:"last_status"`
	LastP50Ms            *float64   `db:"last_p50_ms"`
	LastP95Ms            *float64   `db:"last_p95_ms"`
	LastP99Ms            *float64   `db:"last_p99_ms"`
	LastProbedAt         *time.Time `db:"last_probed_at"`
	CreatedBy            string     `db:"created_by"`
	CreatedAt            time.Time  `db:"created_at"`
}

// GCCounts is the per-entity count returned by gc_expired.
type GCCounts struct {
	Credentials  int `json:"credentials"`
	ExecSessions int `json:"exec_sessions"`
	Jobs         int `json:"jobs"`
	AuthSessions int `json:"auth_sessions"`
	OAuthStates  int `json:"oauth_states"`
}
