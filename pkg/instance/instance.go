package instance

import "os"

// GetID returns the process instance identifier used as lock owner, or a default value.
func GetID() string {
	if id := os.Getenv("AKUA_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "akua-0"
}

// Version is stamped at build time with -ldflags "-X .../pkg/instance.Version=...".
var Version = "dev"
