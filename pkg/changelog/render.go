package changelog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/refpages/apidelta/pkg/delta"
)

// yamlChangelog mirrors the CHANGELOG.yaml layout the docs tooling
// consumes: project id plus versions newest first, each with categorized
// change entries.
type yamlChangelog struct {
	Project  string        `yaml:"project"`
	Versions []yamlVersion `yaml:"versions"`
}

type yamlVersion struct {
	Version string      `yaml:"version"`
	Date    string      `yaml:"date,omitempty"`
	SHA     string      `yaml:"sha,omitempty"`
	Changes yamlChanges `yaml:"changes"`
}

type yamlChanges struct {
	Breaking   []string `yaml:"breaking,omitempty"`
	Added      []string `yaml:"added,omitempty"`
	Changed    []string `yaml:"changed,omitempty"`
	Deprecated []string `yaml:"deprecated,omitempty"`
}

// YAML renders the changelog as a CHANGELOG.yaml document.
func YAML(cl *PackageChangelog, title string) ([]byte, error) {
	doc := yamlChangelog{Project: titleOrID(cl, title)}
	for _, d := range displayOrder(cl) {
		v := yamlVersion{Version: d.Version, SHA: d.SHA, Changes: entriesFor(d)}
		if !d.ReleaseDate.IsZero() {
			v.Date = d.ReleaseDate.UTC().Format("2006-01-02")
		}
		doc.Versions = append(doc.Versions, v)
	}
	return yaml.Marshal(&doc)
}

// Markdown renders the changelog as a Keep a Changelog style document,
// newest version first. Deterministic for a given changelog.
func Markdown(cl *PackageChangelog, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Changelog\n\nAll notable API changes to %s are documented here, newest first.\nEntries are generated from tagged releases and never rewritten.\n", titleOrID(cl, title))

	for _, d := range displayOrder(cl) {
		b.WriteString("\n")
		if d.ReleaseDate.IsZero() {
			fmt.Fprintf(&b, "## [%s]\n", d.Version)
		} else {
			fmt.Fprintf(&b, "## [%s] - %s\n", d.Version, d.ReleaseDate.UTC().Format("2006-01-02"))
		}

		changes := entriesFor(d)
		categories := []struct {
			title   string
			entries []string
		}{
			{"Breaking", changes.Breaking},
			{"Added", changes.Added},
			{"Changed", changes.Changed},
			{"Deprecated", changes.Deprecated},
		}
		wrote := false
		for _, cat := range categories {
			if len(cat.entries) == 0 {
				continue
			}
			wrote = true
			fmt.Fprintf(&b, "\n### %s\n\n", cat.title)
			for _, entry := range cat.entries {
				fmt.Fprintf(&b, "- %s\n", entry)
			}
		}
		if !wrote {
			b.WriteString("\nNo public API changes.\n")
		}
	}
	return b.String()
}

func titleOrID(cl *PackageChangelog, title string) string {
	if title != "" {
		return title
	}
	return cl.PackageID
}

// displayOrder returns the deltas newest first by semantic version. The
// stored order is append order, which interleaves backfilled old versions
// behind newer ones.
func displayOrder(cl *PackageChangelog) []*delta.VersionDelta {
	out := make([]*delta.VersionDelta, len(cl.Deltas))
	copy(out, cl.Deltas)
	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i].Version)
		vj, errj := semver.NewVersion(out[j].Version)
		if erri != nil || errj != nil {
			return out[i].Version > out[j].Version
		}
		return vi.GreaterThan(vj)
	})
	return out
}

// entriesFor flattens one delta into display lines per category. Removed
// symbols and breaking modification records make up the breaking category;
// non-breaking modifications land under changed.
func entriesFor(d *delta.VersionDelta) yamlChanges {
	var changes yamlChanges

	for _, rem := range d.Removed {
		line := fmt.Sprintf("`%s` removed", rem.QualifiedName)
		if rem.Replacement != "" {
			line += fmt.Sprintf(" (use `%s` instead)", rem.Replacement)
		}
		changes.Breaking = append(changes.Breaking, line)
	}
	for _, mod := range d.Modified {
		for _, c := range mod.Changes {
			line := fmt.Sprintf("`%s`: %s", mod.QualifiedName, c.Description)
			if c.Breaking {
				changes.Breaking = append(changes.Breaking, line)
			} else {
				changes.Changed = append(changes.Changed, line)
			}
		}
	}
	for _, add := range d.Added {
		line := fmt.Sprintf("`%s`", add.QualifiedName)
		if add.Snapshot != nil && add.Snapshot.Kind != "" {
			line += fmt.Sprintf(" (%s)", add.Snapshot.Kind)
		}
		changes.Added = append(changes.Added, line)
	}
	for _, dep := range d.Deprecated {
		line := fmt.Sprintf("`%s`", dep.QualifiedName)
		if msg := stripHTML(dep.Message); msg != "" {
			line += ": " + msg
		}
		if dep.Replacement != "" && !strings.Contains(line, dep.Replacement) {
			line += fmt.Sprintf(" (use `%s` instead)", dep.Replacement)
		}
		changes.Deprecated = append(changes.Deprecated, line)
	}
	return changes
}

// stripHTML flattens markup in extractor-provided text down to its visible
// text. Deprecation messages routinely carry anchors.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(b.String()), " ")
}
