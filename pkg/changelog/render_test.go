package changelog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/refpages/apidelta/pkg/delta"
	"github.com/refpages/apidelta/pkg/snapshot"
)

func renderFixture() *PackageChangelog {
	return &PackageChangelog{
		PackageID: "widgets",
		Deltas: []*delta.VersionDelta{
			{
				Version:     "1.0.0",
				SHA:         "aaa",
				ReleaseDate: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
				Added: []delta.AddedSymbol{
					{QualifiedName: "widgets.alpha", Snapshot: &snapshot.SymbolSnapshot{QualifiedName: "widgets.alpha", Kind: "function"}},
				},
			},
			{
				Version:         "1.1.0",
				PreviousVersion: "1.0.0",
				SHA:             "bbb",
				ReleaseDate:     time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
				Removed: []delta.RemovedSymbol{
					{QualifiedName: "widgets.alpha", Kind: "function", Replacement: "widgets.alphaSync"},
				},
				Modified: []delta.ModifiedSymbol{
					{
						QualifiedName: "widgets.Client.get",
						Changes: []delta.ChangeRecord{
							{Kind: delta.KindParamAdded, Description: "parameter timeout added (required)", Breaking: true, Name: "timeout"},
							{Kind: delta.KindParamDefaultChanged, Description: "parameter retries default changed from 3 to 5", Name: "retries"},
						},
					},
				},
				Deprecated: []delta.DeprecatedSymbol{
					{QualifiedName: "widgets.legacy", Message: `Use <a href="#alphaSync">alphaSync</a> instead`, Replacement: "alphaSync"},
				},
			},
		},
	}
}

func TestMarkdown(t *testing.T) {
	out := Markdown(renderFixture(), "Widgets")

	assert.True(t, strings.HasPrefix(out, "# Changelog"))
	assert.Contains(t, out, "All notable API changes to Widgets")

	// Newest version first.
	assert.Less(t, strings.Index(out, "## [1.1.0] - 2024-06-15"), strings.Index(out, "## [1.0.0] - 2024-06-01"))

	assert.Contains(t, out, "### Breaking")
	assert.Contains(t, out, "- `widgets.alpha` removed (use `widgets.alphaSync` instead)")
	assert.Contains(t, out, "- `widgets.Client.get`: parameter timeout added (required)")

	assert.Contains(t, out, "### Changed")
	assert.Contains(t, out, "- `widgets.Client.get`: parameter retries default changed from 3 to 5")

	assert.Contains(t, out, "### Added")
	assert.Contains(t, out, "- `widgets.alpha` (function)")

	assert.Contains(t, out, "### Deprecated")
	assert.Contains(t, out, "- `widgets.legacy`: Use alphaSync instead")
	assert.NotContains(t, out, "<a href")
}

func TestMarkdownDeterministic(t *testing.T) {
	cl := renderFixture()
	require.Equal(t, Markdown(cl, ""), Markdown(cl, ""))
}

func TestMarkdownEmptyDelta(t *testing.T) {
	cl := &PackageChangelog{
		PackageID: "widgets",
		Deltas: []*delta.VersionDelta{
			{Version: "1.0.1", PreviousVersion: "1.0.0", ReleaseDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	out := Markdown(cl, "")
	assert.Contains(t, out, "## [1.0.1] - 2024-07-01")
	assert.Contains(t, out, "No public API changes.")
}

func TestYAML(t *testing.T) {
	data, err := YAML(renderFixture(), "")
	require.NoError(t, err)

	var doc struct {
		Project  string `yaml:"project"`
		Versions []struct {
			Version string `yaml:"version"`
			Date    string `yaml:"date"`
			Changes struct {
				Breaking   []string `yaml:"breaking"`
				Added      []string `yaml:"added"`
				Changed    []string `yaml:"changed"`
				Deprecated []string `yaml:"deprecated"`
			} `yaml:"changes"`
		} `yaml:"versions"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))

	assert.Equal(t, "widgets", doc.Project)
	require.Len(t, doc.Versions, 2)
	assert.Equal(t, "1.1.0", doc.Versions[0].Version)
	assert.Equal(t, "2024-06-15", doc.Versions[0].Date)
	assert.Len(t, doc.Versions[0].Changes.Breaking, 2)
	assert.Len(t, doc.Versions[0].Changes.Changed, 1)
	assert.Len(t, doc.Versions[0].Changes.Deprecated, 1)
	assert.Equal(t, "1.0.0", doc.Versions[1].Version)
	assert.Len(t, doc.Versions[1].Changes.Added, 1)
}

func TestDisplayOrderSortsBackfills(t *testing.T) {
	cl := &PackageChangelog{
		PackageID: "widgets",
		Deltas: []*delta.VersionDelta{
			{Version: "1.1.0"},
			{Version: "1.0.9"}, // backfilled after 1.1.0, stored last
			{Version: "1.2.0"},
		},
	}
	ordered := displayOrder(cl)
	got := make([]string, 0, len(ordered))
	for _, d := range ordered {
		got = append(got, d.Version)
	}
	assert.Equal(t, []string{"1.2.0", "1.1.0", "1.0.9"}, got)
}

func TestStripHTML(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"plain text passthrough": {in: "use alphaSync instead", want: "use alphaSync instead"},
		"anchor":                 {in: `Use <a href="#x">alphaSync</a> instead`, want: "Use alphaSync instead"},
		"nested markup":          {in: "<p>Deprecated. <strong>Do not</strong> use.</p>", want: "Deprecated. Do not use."},
		"entities":               {in: "a &amp; b", want: "a & b"},
		"whitespace collapsed":   {in: "<p>line one\n\n  line two</p>", want: "line one line two"},
		"empty":                  {in: "", want: ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripHTML(tc.in))
		})
	}
}
