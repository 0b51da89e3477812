package version

// Version is the agent release string, overridable at link time with
// -ldflags "-X github.com/saworbit/kernwatch/internal/version.Version=...".
var Version = "0.3.0-dev"
