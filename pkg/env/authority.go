package env

import "time"

// Environment variables read once at authority start (server-side). Hot
// reload is not supported: a changed value requires a process restart.
var (
	ListenAddr = RegisterStringVar(
		"MINDCACHE_LISTEN_ADDR",
		":8787",
		"Address the authority HTTP/WebSocket server binds to.",
		ComponentAuthority,
	)

	// IdentityProviderJWKSURL is reserved for a future JWKS-backed
	// RSA/EC BearerJWTAuthenticator; the current authenticator verifies
	// bearer tokens by static HMAC secret and does not read this var.
	IdentityProviderJWKSURL = RegisterStringVar(
		"MINDCACHE_IDP_JWKS_URL",
		"",
		"Reserved: JWKS endpoint for a future RSA/EC bearer token verifier (not yet implemented).",
		ComponentAuthority,
	)

	IdentityProviderIssuer = RegisterStringVar(
		"MINDCACHE_IDP_ISSUER",
		"",
		"Expected issuer claim for bearer credentials.",
		ComponentAuthority,
	)

	DatabaseURL = RegisterStringVar(
		"MINDCACHE_DATABASE_URL",
		"sqlite://mindcache.db",
		"Durable store connection descriptor for the global registry (sqlite://path or postgres://...).",
		ComponentAuthority,
	)

	SnapshotCacheTTL = RegisterDurationVar(
		"MINDCACHE_SESSION_CACHE_TTL",
		0,
		"How long a session's cached permission set stays valid; 0 means the lifetime of the connection.",
		ComponentAuthority,
	)

	AIProxyAPIKey = RegisterStringVar(
		"MINDCACHE_AI_PROXY_API_KEY",
		"",
		"Secret used by optional AI-call proxy callouts (text transform, image generation/analysis); unused by the core.",
		ComponentAuthority,
	)

	MemLimitRatio = RegisterStringVar(
		"MINDCACHE_MEMLIMIT_RATIO",
		"0.9",
		"Fraction of the cgroup/system memory limit GOMEMLIMIT is set to at startup; 0 disables auto memory limit.",
		ComponentAuthority,
	)

	AuthMode = RegisterStringVar(
		"MINDCACHE_AUTH_MODE",
		"unsecure",
		"Authenticator the authority uses for the REST control plane and the sync handshake's bearer path: unsecure or jwt.",
		ComponentAuthority,
	)

	JWTSigningSecret = RegisterStringVar(
		"MINDCACHE_JWT_SIGNING_SECRET",
		"",
		"HMAC signing secret for BearerJWTAuthenticator; required when MINDCACHE_AUTH_MODE=jwt.",
		ComponentAuthority,
	)
)

// ReconnectBackoff bounds client-side adapter reconnection, per spec §4.3.3.
var (
	ReconnectBaseDelay = RegisterDurationVar(
		"MINDCACHE_RECONNECT_BASE",
		500*time.Millisecond,
		"Base delay for the cloud adapter's exponential reconnect backoff.",
		ComponentCloudAdapter,
	)

	ReconnectMaxDelay = RegisterDurationVar(
		"MINDCACHE_RECONNECT_CAP",
		30*time.Second,
		"Cap on the cloud adapter's exponential reconnect backoff.",
		ComponentCloudAdapter,
	)

	OutboundQueueCap = RegisterIntVar(
		"MINDCACHE_OUTBOUND_QUEUE_CAP",
		1000,
		"Maximum number of buffered outgoing ops before further writes fail Transient.",
		ComponentCloudAdapter,
	)
)
