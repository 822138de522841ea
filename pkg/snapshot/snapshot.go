// Package snapshot reduces full symbol records to compact, comparison-stable
// projections. Documentation text, examples and non-public members are
// deliberately excluded: snapshots describe API shape, nothing else.
package snapshot

import (
	"sort"
	"strings"

	"github.com/refpages/apidelta/internal/utils"
	"github.com/refpages/apidelta/pkg/ir"
)

// FlagSource records where a member's modifier flags came from. Flags read
// from a resolved symbol's tags are authoritative; flags derived from
// signature text are a best-effort fallback. Excluded from all comparisons.
type FlagSource string

const (
	FlagSourceResolved  FlagSource = "resolved"
	FlagSourceSignature FlagSource = "signature"
)

// SymbolSnapshot is the comparison-stable projection of one public symbol.
type SymbolSnapshot struct {
	QualifiedName string              `json:"qualifiedName"`
	Kind          string              `json:"kind"`
	Signature     string              `json:"signature,omitempty"`
	SourcePath    string              `json:"sourcePath,omitempty"`
	SourceLine    int                 `json:"sourceLine,omitempty"`
	Members       []MemberSnapshot    `json:"members,omitempty"`
	Params        []ParamSnapshot     `json:"params,omitempty"`
	ReturnType    string              `json:"returnType,omitempty"`
	TypeParams    []TypeParamSnapshot `json:"typeParams,omitempty"`
	Extends       []string            `json:"extends,omitempty"`
	Implements    []string            `json:"implements,omitempty"`
}

type MemberSnapshot struct {
	Name       string     `json:"name"`
	Kind       string     `json:"kind,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	Type       string     `json:"type,omitempty"`
	Optional   bool       `json:"optional,omitempty"`
	Readonly   bool       `json:"readonly,omitempty"`
	Static     bool       `json:"static,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
	FlagSource FlagSource `json:"flagSource,omitempty"`
}

type ParamSnapshot struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

type TypeParamSnapshot struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
	Default    string `json:"default,omitempty"`
}

// Resolver looks up the full symbol record behind a member reference.
// Returning nil means the member has no record of its own and flags will
// be derived from signature text instead.
type Resolver func(ref ir.MemberRef) *ir.SymbolRecord

// Build projects one symbol record into a snapshot. Members are filtered
// to public visibility and sorted by name so extractor ordering churn
// never shows up as a change. Parameter and type-parameter order is
// positional and preserved as-is.
func Build(rec *ir.SymbolRecord, resolve Resolver) *SymbolSnapshot {
	snap := &SymbolSnapshot{
		QualifiedName: rec.QualifiedName,
		Kind:          rec.Kind,
		Signature:     rec.Signature,
	}
	if rec.Source != nil {
		snap.SourcePath = rec.Source.Path
		snap.SourceLine = rec.Source.Line
	}
	for _, p := range rec.Params {
		snap.Params = append(snap.Params, ParamSnapshot{
			Name:     p.Name,
			Type:     p.Type,
			Required: p.Required,
			Default:  p.Default,
		})
	}
	if rec.Returns != nil {
		snap.ReturnType = rec.Returns.Type
	}
	for _, tp := range rec.TypeParams {
		snap.TypeParams = append(snap.TypeParams, TypeParamSnapshot{
			Name:       tp.Name,
			Constraint: tp.Constraint,
			Default:    tp.Default,
		})
	}
	if rec.Relations != nil {
		snap.Extends = append([]string(nil), rec.Relations.Extends...)
		snap.Implements = append([]string(nil), rec.Relations.Implements...)
	}
	for _, ref := range rec.Members {
		member, public := buildMember(ref, resolve)
		if !public {
			continue
		}
		snap.Members = append(snap.Members, member)
	}
	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].Name < snap.Members[j].Name
	})
	return snap
}

func buildMember(ref ir.MemberRef, resolve Resolver) (MemberSnapshot, bool) {
	var resolved *ir.SymbolRecord
	if resolve != nil {
		resolved = resolve(ref)
	}

	member := MemberSnapshot{
		Name:      ref.Name,
		Kind:      ref.Kind,
		Signature: ref.Signature,
	}

	if resolved != nil {
		if member.Kind == "" {
			member.Kind = resolved.Kind
		}
		if member.Signature == "" {
			member.Signature = resolved.Signature
		}
		member.Optional = resolved.Tags.IsOptional
		member.Readonly = resolved.Tags.IsReadonly
		member.Static = resolved.Tags.IsStatic
		member.Visibility = firstNonEmpty(resolved.Tags.Visibility, ref.Visibility, "public")
		if resolved.Returns != nil && resolved.Returns.Type != "" {
			member.Type = resolved.Returns.Type
		} else {
			member.Type = TypeFromSignature(member.Signature)
		}
		member.FlagSource = FlagSourceResolved
	} else {
		optional, readonly, static, visibility := flagsFromSignature(member.Signature)
		member.Optional = optional
		member.Readonly = readonly
		member.Static = static
		member.Visibility = firstNonEmpty(visibility, ref.Visibility, "public")
		member.Type = TypeFromSignature(member.Signature)
		member.FlagSource = FlagSourceSignature
	}

	if member.Visibility != "public" {
		return MemberSnapshot{}, false
	}
	return member, true
}

// flagsFromSignature derives modifier flags from signature text when no
// resolved symbol is available. Best effort, not a guarantee.
func flagsFromSignature(sig string) (optional, readonly, static bool, visibility string) {
	optional = strings.Contains(sig, "?:")

	rest := strings.TrimSpace(sig)
	for {
		word, tail, found := strings.Cut(rest, " ")
		if !found {
			break
		}
		switch word {
		case "readonly":
			readonly = true
		case "static":
			static = true
		case "public", "protected", "private":
			visibility = word
		case "abstract", "async", "export", "declare":
			// modifiers we do not track, keep scanning
		default:
			return
		}
		rest = strings.TrimSpace(tail)
	}
	return
}

// TypeFromSignature extracts the declared type from signature text: the
// part after the last colon outside any bracket pair, with a trailing
// default assignment stripped. Returns "" when there is no such colon.
func TypeFromSignature(sig string) string {
	depth := 0
	idx := -1
	for i, r := range sig {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				idx = i
			}
		}
	}
	if idx < 0 {
		return ""
	}
	typ := sig[idx+1:]
	if j := strings.Index(typ, " = "); j >= 0 {
		typ = typ[:j]
	}
	return strings.TrimSpace(typ)
}

// Equal reports deep equality of two snapshots, ignoring FlagSource.
// Documentation never reaches a snapshot, so it cannot influence this.
func Equal(a, b *SymbolSnapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.QualifiedName != b.QualifiedName ||
		a.Kind != b.Kind ||
		a.Signature != b.Signature ||
		a.SourcePath != b.SourcePath ||
		a.SourceLine != b.SourceLine ||
		a.ReturnType != b.ReturnType {
		return false
	}
	if !utils.AreSlicesEqual(a.Extends, b.Extends) || !utils.AreSlicesEqual(a.Implements, b.Implements) {
		return false
	}
	if len(a.Members) != len(b.Members) {
		return false
	}
	for i := range a.Members {
		if !MembersEqual(a.Members[i], b.Members[i]) {
			return false
		}
	}
	if len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	if len(a.TypeParams) != len(b.TypeParams) {
		return false
	}
	for i := range a.TypeParams {
		if a.TypeParams[i] != b.TypeParams[i] {
			return false
		}
	}
	return true
}

// MembersEqual compares two member snapshots, ignoring FlagSource.
func MembersEqual(a, b MemberSnapshot) bool {
	return a.Name == b.Name &&
		a.Kind == b.Kind &&
		a.Signature == b.Signature &&
		a.Type == b.Type &&
		a.Optional == b.Optional &&
		a.Readonly == b.Readonly &&
		a.Static == b.Static &&
		a.Visibility == b.Visibility
}

// Render produces a signature-like display string from snapshot fields
// alone. Pure and deterministic; used for display, never for comparison.
func Render(s *SymbolSnapshot) string {
	if s == nil {
		return ""
	}
	if s.Signature != "" {
		return s.Signature
	}

	var b strings.Builder
	b.WriteString(s.QualifiedName)
	if len(s.TypeParams) > 0 {
		b.WriteString("<")
		for i, tp := range s.TypeParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tp.Name)
			if tp.Constraint != "" {
				b.WriteString(": " + tp.Constraint)
			}
			if tp.Default != "" {
				b.WriteString(" = " + tp.Default)
			}
		}
		b.WriteString(">")
	}
	if len(s.Params) > 0 || s.Kind == "function" || s.Kind == "method" {
		b.WriteString("(")
		for i, p := range s.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Name)
			if !p.Required {
				b.WriteString("?")
			}
			if p.Type != "" {
				b.WriteString(": " + p.Type)
			}
			if p.Default != "" {
				b.WriteString(" = " + p.Default)
			}
		}
		b.WriteString(")")
	}
	if s.ReturnType != "" {
		b.WriteString(": " + s.ReturnType)
	}
	if len(s.Extends) > 0 {
		b.WriteString(" extends " + strings.Join(s.Extends, ", "))
	}
	if len(s.Implements) > 0 {
		b.WriteString(" implements " + strings.Join(s.Implements, ", "))
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
