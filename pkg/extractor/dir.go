package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/ir"
)

// DirExtractor reads IR artifacts from the directory layout extraction CI
// publishes: <root>/<packageID>/<version>.json.
type DirExtractor struct {
	Root string
}

func NewDirExtractor(root string) *DirExtractor {
	return &DirExtractor{Root: root}
}

func (e *DirExtractor) Extract(_ context.Context, pkg changelog.PackageRef, v discovery.DiscoveredVersion) (*ir.MinimalIR, error) {
	path := filepath.Join(e.Root, pkg.ID, v.Version+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading description: %w", err)
	}
	doc, err := ir.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := Verify(pkg, v, doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
