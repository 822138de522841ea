package changelog

import (
	"context"
	"errors"

	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/ir"
)

// ErrNotFound marks a package with no stored changelog. It is the normal
// first-build state: callers start from empty, they do not retry.
var ErrNotFound = errors.New("changelog: not found")

// Source reads previously built changelog state.
type Source interface {
	Fetch(ctx context.Context, packageID string) (*PackageChangelog, *PackageVersionIndex, error)
}

// Store persists changelog state. Save is atomic and append-only: deltas
// already saved are never rewritten, and attempting to change one is an
// error, not a silent overwrite.
type Store interface {
	Source
	Save(ctx context.Context, cl *PackageChangelog, idx *PackageVersionIndex) error
}

// Extractor turns a discovered version into its API description.
// Implementations live in pkg/extractor; anything that can produce an IR
// document for an exact version/commit pair qualifies.
type Extractor interface {
	Extract(ctx context.Context, pkg PackageRef, v discovery.DiscoveredVersion) (*ir.MinimalIR, error)
}
