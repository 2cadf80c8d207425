package neighd

import (
	"github.com/yanet-platform/neighd/controlplane/internal/version"
)

// Version returns the current neighd version.
func Version() string {
	return version.Version()
}
