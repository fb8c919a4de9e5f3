package env

// AppName is the binary's display name, used in generated reports.
const AppName = "udfkit"

// Version, CommitHash and BuildTime are stamped at build time via
// -ldflags "-X github.com/ostafen/udfkit/internal/env.Version=...".
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)
