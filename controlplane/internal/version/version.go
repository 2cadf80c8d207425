package version

// version is the version of neighd.
//
// This value is expected to be set via build-time injection:
//
//	-ldflags "-X github.com/yanet-platform/neighd/controlplane/internal/version.version=v1.2.3"
var version string

// Version returns the version of neighd, "dev" for local builds.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}
