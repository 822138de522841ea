// Package delta computes the structured difference between two versions of
// a package's public API. Compute is pure and deterministic: the same pair
// of inputs always yields byte-identical output, because deltas are
// persisted once and never recomputed.
package delta

import (
	"sort"
	"time"

	"github.com/refpages/apidelta/pkg/ir"
	"github.com/refpages/apidelta/pkg/snapshot"
)

// ChangeKind is the closed set of change categories a diff can report.
type ChangeKind string

const (
	KindSignatureChanged         ChangeKind = "signature-changed"
	KindExtendsChanged           ChangeKind = "extends-changed"
	KindImplementsChanged        ChangeKind = "implements-changed"
	KindReturnTypeChanged        ChangeKind = "return-type-changed"
	KindMemberAdded              ChangeKind = "member-added"
	KindMemberRemoved            ChangeKind = "member-removed"
	KindMemberTypeChanged        ChangeKind = "member-type-changed"
	KindMemberOptionalityChanged ChangeKind = "member-optionality-changed"
	KindMemberVisibilityChanged  ChangeKind = "member-visibility-changed"
	KindMemberReadonlyChanged    ChangeKind = "member-readonly-changed"
	KindMemberStaticChanged      ChangeKind = "member-static-changed"
	KindParamAdded               ChangeKind = "param-added"
	KindParamRemoved             ChangeKind = "param-removed"
	KindParamTypeChanged         ChangeKind = "param-type-changed"
	KindParamOptionalityChanged  ChangeKind = "param-optionality-changed"
	KindParamDefaultChanged      ChangeKind = "param-default-changed"
)

// ChangeRecord is one atomic detected difference. Name carries the member
// or parameter the change applies to; Before/After carry display payloads.
type ChangeRecord struct {
	Kind        ChangeKind `json:"kind"`
	Description string     `json:"description"`
	Breaking    bool       `json:"breaking"`
	Name        string     `json:"name,omitempty"`
	Before      string     `json:"before,omitempty"`
	After       string     `json:"after,omitempty"`
}

// VersionDelta is the full structured difference between two consecutive
// tracked versions. Persisted immutably once computed.
type VersionDelta struct {
	Version         string             `json:"version"`
	PreviousVersion string             `json:"previousVersion,omitempty"`
	SHA             string             `json:"sha,omitempty"`
	ReleaseDate     time.Time          `json:"releaseDate"`
	Added           []AddedSymbol      `json:"added,omitempty"`
	Removed         []RemovedSymbol    `json:"removed,omitempty"`
	Modified        []ModifiedSymbol   `json:"modified,omitempty"`
	Deprecated      []DeprecatedSymbol `json:"deprecated,omitempty"`
}

type AddedSymbol struct {
	QualifiedName string                   `json:"qualifiedName"`
	Snapshot      *snapshot.SymbolSnapshot `json:"snapshot"`
}

type RemovedSymbol struct {
	QualifiedName string `json:"qualifiedName"`
	Kind          string `json:"kind,omitempty"`
	Replacement   string `json:"replacement,omitempty"`
}

type ModifiedSymbol struct {
	QualifiedName  string                   `json:"qualifiedName"`
	Changes        []ChangeRecord           `json:"changes"`
	SnapshotBefore *snapshot.SymbolSnapshot `json:"snapshotBefore,omitempty"`
	SnapshotAfter  *snapshot.SymbolSnapshot `json:"snapshotAfter,omitempty"`
}

type DeprecatedSymbol struct {
	QualifiedName string                   `json:"qualifiedName"`
	Message       string                   `json:"message,omitempty"`
	Replacement   string                   `json:"replacement,omitempty"`
	Snapshot      *snapshot.SymbolSnapshot `json:"snapshot,omitempty"`
}

// Compute diffs two IR documents of the same package, older first. A nil
// older document means a first version: everything in newer is added.
// The added, removed and modified qualified-name sets are pairwise
// disjoint; deprecated is independent of all three. All result slices are
// sorted by qualified name.
func Compute(older, newer *ir.MinimalIR) *VersionDelta {
	if older == nil {
		older = &ir.MinimalIR{}
	}

	d := &VersionDelta{
		Version:         newer.Version,
		PreviousVersion: older.Version,
		SHA:             newer.SHA,
		ReleaseDate:     newer.ReleaseDate,
	}

	oldIdx, newIdx := older.Index(), newer.Index()
	oldNames := sortedNames(older)
	newNames := sortedNames(newer)

	oldSet := make(map[string]struct{}, len(oldNames))
	for _, name := range oldNames {
		oldSet[name] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newNames))
	for _, name := range newNames {
		newSet[name] = struct{}{}
	}

	for _, name := range newNames {
		rec := newIdx.ByName(name)
		if _, existed := oldSet[name]; !existed {
			d.Added = append(d.Added, AddedSymbol{
				QualifiedName: name,
				Snapshot:      buildSnapshot(newIdx, rec),
			})
		}
	}

	for _, name := range oldNames {
		if _, survives := newSet[name]; survives {
			continue
		}
		rec := oldIdx.ByName(name)
		d.Removed = append(d.Removed, RemovedSymbol{
			QualifiedName: name,
			Kind:          rec.Kind,
			Replacement:   SuggestReplacement(name, newNames),
		})
	}

	for _, name := range newNames {
		if _, existed := oldSet[name]; !existed {
			continue
		}
		oldRec, newRec := oldIdx.ByName(name), newIdx.ByName(name)
		before := buildSnapshot(oldIdx, oldRec)
		after := buildSnapshot(newIdx, newRec)
		if !snapshot.Equal(before, after) {
			if changes := detectChanges(before, after); len(changes) > 0 {
				d.Modified = append(d.Modified, ModifiedSymbol{
					QualifiedName:  name,
					Changes:        changes,
					SnapshotBefore: before,
					SnapshotAfter:  after,
				})
			}
		}
	}

	// Newly deprecated symbols, independent of the modified set. A symbol
	// that arrives already deprecated counts: its flag was never true before.
	for _, name := range newNames {
		newRec := newIdx.ByName(name)
		if !newRec.IsDeprecated() {
			continue
		}
		if oldRec := oldIdx.ByName(name); oldRec != nil && oldRec.IsDeprecated() {
			continue
		}
		dep := newRec.Docs.Deprecated
		replacement := dep.Replacement
		if replacement == "" {
			replacement = ReplacementFromMessage(dep.Message)
		}
		d.Deprecated = append(d.Deprecated, DeprecatedSymbol{
			QualifiedName: name,
			Message:       dep.Message,
			Replacement:   replacement,
			Snapshot:      buildSnapshot(newIdx, newRec),
		})
	}

	return d
}

func buildSnapshot(idx *ir.Index, rec *ir.SymbolRecord) *snapshot.SymbolSnapshot {
	owner := rec.QualifiedName
	return snapshot.Build(rec, func(ref ir.MemberRef) *ir.SymbolRecord {
		return idx.ResolveMember(owner, ref)
	})
}

func sortedNames(doc *ir.MinimalIR) []string {
	names := make([]string, 0, len(doc.Symbols))
	for i := range doc.Symbols {
		names = append(names, doc.Symbols[i].QualifiedName)
	}
	sort.Strings(names)
	return names
}

// HasChanges reports whether the delta carries anything worth publishing.
func (d *VersionDelta) HasChanges() bool {
	return len(d.Added)+len(d.Removed)+len(d.Modified)+len(d.Deprecated) > 0
}

// BreakingCount counts the breaking entries: every removed symbol plus
// every breaking change record on modified symbols.
func (d *VersionDelta) BreakingCount() int {
	n := len(d.Removed)
	for _, mod := range d.Modified {
		for _, c := range mod.Changes {
			if c.Breaking {
				n++
			}
		}
	}
	return n
}
