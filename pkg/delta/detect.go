package delta

import (
	"fmt"
	"sort"
	"strings"

	"github.com/refpages/apidelta/internal/utils"
	"github.com/refpages/apidelta/pkg/snapshot"
)

// detectChanges compares two snapshots of the same symbol field by field.
// Detection order is fixed: signature, extends, implements, return type,
// members (removed, added, changed), params (removed, added, changed).
func detectChanges(before, after *snapshot.SymbolSnapshot) []ChangeRecord {
	var changes []ChangeRecord

	if before.Signature != after.Signature {
		changes = append(changes, ChangeRecord{
			Kind:        KindSignatureChanged,
			Description: "signature changed",
			// Only breaking when the symbol has no structured shape to
			// compare: for everything else the structural records below
			// carry the verdict.
			Breaking: isUnstructured(before) && isUnstructured(after),
			Before:   before.Signature,
			After:    after.Signature,
		})
	}

	if !utils.AreSlicesEqual(before.Extends, after.Extends) {
		changes = append(changes, ChangeRecord{
			Kind:        KindExtendsChanged,
			Description: fmt.Sprintf("extends changed from %s to %s", displayList(before.Extends), displayList(after.Extends)),
			Breaking:    true,
			Before:      strings.Join(before.Extends, ", "),
			After:       strings.Join(after.Extends, ", "),
		})
	}

	if !utils.AreSlicesEqual(before.Implements, after.Implements) {
		changes = append(changes, ChangeRecord{
			Kind:        KindImplementsChanged,
			Description: fmt.Sprintf("implements changed from %s to %s", displayList(before.Implements), displayList(after.Implements)),
			Breaking:    true,
			Before:      strings.Join(before.Implements, ", "),
			After:       strings.Join(after.Implements, ", "),
		})
	}

	if before.ReturnType != after.ReturnType {
		changes = append(changes, ChangeRecord{
			Kind:        KindReturnTypeChanged,
			Description: fmt.Sprintf("return type changed from %s to %s", displayType(before.ReturnType), displayType(after.ReturnType)),
			Breaking:    true,
			Before:      before.ReturnType,
			After:       after.ReturnType,
		})
	}

	changes = append(changes, diffMembers(before.Members, after.Members)...)
	changes = append(changes, diffParams(before.Params, after.Params)...)

	return changes
}

// isUnstructured reports whether a snapshot exposes no members or params,
// i.e. its signature text is the only comparable surface (type aliases,
// enums, variables).
func isUnstructured(s *snapshot.SymbolSnapshot) bool {
	return len(s.Members) == 0 && len(s.Params) == 0
}

func diffMembers(before, after []snapshot.MemberSnapshot) []ChangeRecord {
	var changes []ChangeRecord

	oldByName := make(map[string]snapshot.MemberSnapshot, len(before))
	for _, m := range before {
		oldByName[m.Name] = m
	}
	newByName := make(map[string]snapshot.MemberSnapshot, len(after))
	for _, m := range after {
		newByName[m.Name] = m
	}

	for _, name := range sortedKeys(oldByName) {
		if _, ok := newByName[name]; ok {
			continue
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberRemoved,
			Description: fmt.Sprintf("member %s removed", name),
			Breaking:    true,
			Name:        name,
			Before:      memberDisplay(oldByName[name]),
		})
	}

	for _, name := range sortedKeys(newByName) {
		if _, ok := oldByName[name]; ok {
			continue
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberAdded,
			Description: fmt.Sprintf("member %s added", name),
			Breaking:    false,
			Name:        name,
			After:       memberDisplay(newByName[name]),
		})
	}

	for _, name := range sortedKeys(oldByName) {
		b, ok := newByName[name]
		if !ok {
			continue
		}
		changes = append(changes, diffMember(oldByName[name], b)...)
	}

	return changes
}

func diffMember(a, b snapshot.MemberSnapshot) []ChangeRecord {
	var changes []ChangeRecord

	if a.Type != b.Type {
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberTypeChanged,
			Description: fmt.Sprintf("member %s type changed from %s to %s", a.Name, displayType(a.Type), displayType(b.Type)),
			Breaking:    !isWidenedType(a.Type, b.Type),
			Name:        a.Name,
			Before:      a.Type,
			After:       b.Type,
		})
	}

	if a.Optional != b.Optional {
		desc := fmt.Sprintf("member %s became optional", a.Name)
		if !b.Optional {
			desc = fmt.Sprintf("member %s became required", a.Name)
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberOptionalityChanged,
			Description: desc,
			Breaking:    a.Optional && !b.Optional,
			Name:        a.Name,
			Before:      optionality(a.Optional),
			After:       optionality(b.Optional),
		})
	}

	if a.Visibility != b.Visibility {
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberVisibilityChanged,
			Description: fmt.Sprintf("member %s visibility changed from %s to %s", a.Name, a.Visibility, b.Visibility),
			Breaking:    visibilityRank(b.Visibility) > visibilityRank(a.Visibility),
			Name:        a.Name,
			Before:      a.Visibility,
			After:       b.Visibility,
		})
	}

	if a.Readonly != b.Readonly {
		desc := fmt.Sprintf("member %s became readonly", a.Name)
		if !b.Readonly {
			desc = fmt.Sprintf("member %s is no longer readonly", a.Name)
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberReadonlyChanged,
			Description: desc,
			// Gaining readonly breaks writers; losing it is reported but harmless.
			Breaking: !a.Readonly && b.Readonly,
			Name:     a.Name,
			Before:   flagState(a.Readonly, "readonly"),
			After:    flagState(b.Readonly, "readonly"),
		})
	}

	if a.Static != b.Static {
		desc := fmt.Sprintf("member %s became static", a.Name)
		if !b.Static {
			desc = fmt.Sprintf("member %s is no longer static", a.Name)
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindMemberStaticChanged,
			Description: desc,
			Breaking:    true,
			Name:        a.Name,
			Before:      flagState(a.Static, "static"),
			After:       flagState(b.Static, "static"),
		})
	}

	return changes
}

func diffParams(before, after []snapshot.ParamSnapshot) []ChangeRecord {
	var changes []ChangeRecord

	oldByName := make(map[string]snapshot.ParamSnapshot, len(before))
	for _, p := range before {
		oldByName[p.Name] = p
	}
	newByName := make(map[string]snapshot.ParamSnapshot, len(after))
	for _, p := range after {
		newByName[p.Name] = p
	}

	for _, name := range sortedKeys(oldByName) {
		if _, ok := newByName[name]; ok {
			continue
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindParamRemoved,
			Description: fmt.Sprintf("parameter %s removed", name),
			Breaking:    true,
			Name:        name,
			Before:      paramDisplay(oldByName[name]),
		})
	}

	for _, name := range sortedKeys(newByName) {
		if _, ok := oldByName[name]; ok {
			continue
		}
		p := newByName[name]
		desc := fmt.Sprintf("optional parameter %s added", name)
		if p.Required {
			desc = fmt.Sprintf("required parameter %s added", name)
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindParamAdded,
			Description: desc,
			Breaking:    p.Required,
			Name:        name,
			After:       paramDisplay(p),
		})
	}

	for _, name := range sortedKeys(oldByName) {
		b, ok := newByName[name]
		if !ok {
			continue
		}
		changes = append(changes, diffParam(oldByName[name], b)...)
	}

	return changes
}

func diffParam(a, b snapshot.ParamSnapshot) []ChangeRecord {
	var changes []ChangeRecord

	if a.Type != b.Type {
		changes = append(changes, ChangeRecord{
			Kind:        KindParamTypeChanged,
			Description: fmt.Sprintf("parameter %s type changed from %s to %s", a.Name, displayType(a.Type), displayType(b.Type)),
			Breaking:    !isWidenedType(a.Type, b.Type),
			Name:        a.Name,
			Before:      a.Type,
			After:       b.Type,
		})
	}

	if a.Required != b.Required {
		desc := fmt.Sprintf("parameter %s became optional", a.Name)
		if b.Required {
			desc = fmt.Sprintf("parameter %s became required", a.Name)
		}
		changes = append(changes, ChangeRecord{
			Kind:        KindParamOptionalityChanged,
			Description: desc,
			Breaking:    !a.Required && b.Required,
			Name:        a.Name,
			Before:      requiredness(a.Required),
			After:       requiredness(b.Required),
		})
	}

	if a.Default != b.Default {
		changes = append(changes, ChangeRecord{
			Kind:        KindParamDefaultChanged,
			Description: fmt.Sprintf("parameter %s default changed from %s to %s", a.Name, displayType(a.Default), displayType(b.Default)),
			Breaking:    false,
			Name:        a.Name,
			Before:      a.Default,
			After:       b.Default,
		})
	}

	return changes
}

func memberDisplay(m snapshot.MemberSnapshot) string {
	if m.Signature != "" {
		return m.Signature
	}
	if m.Type != "" {
		return m.Name + ": " + m.Type
	}
	return m.Name
}

func paramDisplay(p snapshot.ParamSnapshot) string {
	out := p.Name
	if !p.Required {
		out += "?"
	}
	if p.Type != "" {
		out += ": " + p.Type
	}
	if p.Default != "" {
		out += " = " + p.Default
	}
	return out
}

func displayType(t string) string {
	if t == "" {
		return "(none)"
	}
	return t
}

func displayList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func optionality(optional bool) string {
	if optional {
		return "optional"
	}
	return "required"
}

func requiredness(required bool) string {
	if required {
		return "required"
	}
	return "optional"
}

func flagState(set bool, flag string) string {
	if set {
		return flag
	}
	return "not " + flag
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
