// Package ir defines the intermediate representation the per-language
// extractors emit for one package version: a reduced set of symbol records
// sufficient for diffing, without full documentation.
package ir

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// MinimalIR is the API description of one package version. The engine
// treats it as immutable input.
type MinimalIR struct {
	Version     string         `json:"version"`
	SHA         string         `json:"sha"`
	ReleaseDate time.Time      `json:"releaseDate"`
	Symbols     []SymbolRecord `json:"symbols"`
}

// SymbolRecord describes one public API element. Extractors own this
// shape; unknown fields in their output are ignored on decode.
type SymbolRecord struct {
	ID            string      `json:"id,omitempty"`
	Kind          string      `json:"kind"`
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualifiedName"`
	Signature     string      `json:"signature,omitempty"`
	Docs          *Docs       `json:"docs,omitempty"`
	Source        *Source     `json:"source,omitempty"`
	Tags          Tags        `json:"tags"`
	Params        []Param     `json:"params,omitempty"`
	Returns       *Returns    `json:"returns,omitempty"`
	TypeParams    []TypeParam `json:"typeParams,omitempty"`
	Relations     *Relations  `json:"relations,omitempty"`
	Members       []MemberRef `json:"members,omitempty"`
}

type Docs struct {
	Summary    string       `json:"summary,omitempty"`
	Deprecated *Deprecation `json:"deprecated,omitempty"`
}

type Deprecation struct {
	IsDeprecated bool   `json:"isDeprecated"`
	Message      string `json:"message,omitempty"`
	Replacement  string `json:"replacement,omitempty"`
}

type Source struct {
	Path string `json:"path,omitempty"`
	Line int    `json:"line,omitempty"`
}

type Tags struct {
	Visibility string `json:"visibility,omitempty"`
	Stability  string `json:"stability,omitempty"`
	IsStatic   bool   `json:"isStatic,omitempty"`
	IsReadonly bool   `json:"isReadonly,omitempty"`
	IsOptional bool   `json:"isOptional,omitempty"`
	IsAsync    bool   `json:"isAsync,omitempty"`
	IsAbstract bool   `json:"isAbstract,omitempty"`
}

type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

type Returns struct {
	Type string `json:"type,omitempty"`
}

type TypeParam struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
	Default    string `json:"default,omitempty"`
}

type Relations struct {
	Extends    []string `json:"extends,omitempty"`
	Implements []string `json:"implements,omitempty"`
}

// MemberRef points at a member of a class/interface/module. RefID links
// to the member's own SymbolRecord when the extractor emitted one.
type MemberRef struct {
	Name       string `json:"name"`
	RefID      string `json:"refId,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

// IsDeprecated reports whether the record carries an active deprecation flag.
func (s *SymbolRecord) IsDeprecated() bool {
	return s.Docs != nil && s.Docs.Deprecated != nil && s.Docs.Deprecated.IsDeprecated
}

// Parse decodes an IR JSON document. It accepts both the minimal form
// ({version, sha, releaseDate, symbols}) and the full extractor output,
// which nests the version and commit under a "package" header.
func Parse(data []byte) (*MinimalIR, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("IR document is not valid JSON")
	}
	var doc MinimalIR
	if pkg := gjson.GetBytes(data, "package"); pkg.Exists() {
		doc.Version = pkg.Get("version").String()
		doc.SHA = pkg.Get("repo.sha").String()
		symbols := gjson.GetBytes(data, "symbols")
		if symbols.Exists() {
			if err := json.Unmarshal([]byte(symbols.Raw), &doc.Symbols); err != nil {
				return nil, fmt.Errorf("failed to decode IR symbols: %w", err)
			}
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode IR document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses an IR JSON file.
func Load(path string) (*MinimalIR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read IR file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks the document invariants. Duplicate qualified names are
// an extractor bug and fail here instead of being silently merged.
func (m *MinimalIR) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("IR document has no version")
	}
	seen := make(map[string]struct{}, len(m.Symbols))
	for _, sym := range m.Symbols {
		if sym.QualifiedName == "" {
			return fmt.Errorf("symbol %q has no qualified name", sym.Name)
		}
		if _, ok := seen[sym.QualifiedName]; ok {
			return fmt.Errorf("duplicate qualified name %q in IR document", sym.QualifiedName)
		}
		seen[sym.QualifiedName] = struct{}{}
	}
	return nil
}

// Index provides symbol lookup by id and by qualified name.
type Index struct {
	byID   map[string]*SymbolRecord
	byName map[string]*SymbolRecord
}

func (m *MinimalIR) Index() *Index {
	ix := &Index{
		byID:   make(map[string]*SymbolRecord, len(m.Symbols)),
		byName: make(map[string]*SymbolRecord, len(m.Symbols)),
	}
	for i := range m.Symbols {
		sym := &m.Symbols[i]
		if sym.ID != "" {
			ix.byID[sym.ID] = sym
		}
		ix.byName[sym.QualifiedName] = sym
	}
	return ix
}

func (ix *Index) ByName(qualifiedName string) *SymbolRecord {
	return ix.byName[qualifiedName]
}

// ResolveMember returns the full record behind a member reference, trying
// the explicit RefID first and the owner-scoped qualified name second.
// A nil result means the member has no record of its own.
func (ix *Index) ResolveMember(ownerQualifiedName string, ref MemberRef) *SymbolRecord {
	if ref.RefID != "" {
		if sym, ok := ix.byID[ref.RefID]; ok {
			return sym
		}
	}
	if ownerQualifiedName != "" {
		if sym, ok := ix.byName[ownerQualifiedName+"."+ref.Name]; ok {
			return sym
		}
	}
	return nil
}
