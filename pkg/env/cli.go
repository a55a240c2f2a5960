package env

import "time"

// Environment variables mindcachectl reads for its own defaults,
// overridable by the --api-url/--user-id/--timeout flags or a viper
// config file (spec §6's control-plane CLI).
var (
	CLIAPIURL = RegisterStringVar(
		"MINDCACHE_API_URL",
		"http://localhost:8787",
		"Base URL mindcachectl targets for the REST control plane.",
		ComponentCLI,
	)

	CLIUserID = RegisterStringVar(
		"MINDCACHE_USER_ID",
		"",
		"Identity mindcachectl presents as X-User-Id when MINDCACHE_AUTH_MODE=unsecure.",
		ComponentCLI,
	)

	CLITimeout = RegisterDurationVar(
		"MINDCACHE_CLI_TIMEOUT",
		10*time.Second,
		"Per-request timeout for mindcachectl's REST calls.",
		ComponentCLI,
	)
)
