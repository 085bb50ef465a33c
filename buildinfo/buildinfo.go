// Package buildinfo holds release metadata stamped in at link time:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/nfc-presence-agent/buildinfo.Version=1.2.0 \
//	  -X github.com/dotside-studios/nfc-presence-agent/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/nfc-presence-agent/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and MQTT client name.
	Name = "nfc-presence-agent"

	// DisplayName is announced over mDNS.
	DisplayName = "NFC Presence Agent"

	Description = "Publishes NFC tag presence events from libnfc readers"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion returns Version with the commit appended when known, e.g. "1.2.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// ClientID returns an identifier for outbound connections, e.g. "nfc-presence-agent-host1".
func ClientID(host string) string {
	if host == "" {
		return Name
	}
	return Name + "-" + host
}

// Summary returns the multi-line text printed by the version command. driver is
// the libnfc version, or "" when unknown.
func Summary(driver string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	if driver != "" {
		fmt.Fprintf(&sb, "  libnfc: %s\n", driver)
	}
	fmt.Fprintf(&sb, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}

// IsDev reports whether this is an unstamped development build.
func IsDev() bool {
	return Version == "dev"
}
