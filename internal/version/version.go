// Package version carries the build identity of the gateway. The variables
// are overridden at link time, e.g.
//
//	go build -ldflags "-X github.com/dileep-u-k/agent-gateway/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// AppName is reported to tool providers during the handshake and by the CLI.
const AppName = "agent-gateway"

var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// BuildInfo is the full build identity.
type BuildInfo struct {
	Version, BuildDate, GitCommit, GoVersion, Platform string
}

func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent is the "<name>/<version>" identity used on outbound connections.
func UserAgent() string {
	return AppName + "/" + Version
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)", AppName, b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}
