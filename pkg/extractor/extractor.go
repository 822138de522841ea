// Package extractor supplies the Extractor implementations the assembler
// plugs in: reading pre-built IR artifacts from disk, or running an
// external extraction command per version. Both enforce the stability
// contract: the description returned for a version/commit pair must
// describe exactly that pair.
package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/ir"
)

// ErrNotFound marks a version whose API description does not exist. The
// assembler treats it like any other extraction failure: skip the version,
// keep building.
var ErrNotFound = errors.New("extractor: description not found")

// Verify checks the stability contract: the document must name the
// requested version (the raw tag or "v"-prefixed spellings are accepted)
// and, when both sides carry one, the requested commit.
func Verify(pkg changelog.PackageRef, v discovery.DiscoveredVersion, doc *ir.MinimalIR) error {
	if doc.Version != v.Version && doc.Version != v.Tag && strings.TrimPrefix(doc.Version, "v") != v.Version {
		return fmt.Errorf("description is for version %q, requested %s@%s", doc.Version, pkg.ID, v.Version)
	}
	if doc.SHA != "" && v.CommitSHA != "" && doc.SHA != v.CommitSHA {
		return fmt.Errorf("description is for commit %s, requested %s@%s at %s", doc.SHA, pkg.ID, v.Version, v.CommitSHA)
	}
	return nil
}
