// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident defines mind identities and the branch-safe variant
// name grammar. An identity is either a base mind name ("alpha") or a
// variant of one ("alpha@exp"). Variant names become git branch names
// and worktree directory names verbatim, so the grammar rejects
// anything git or a shell could misinterpret.
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is returned for names that fail the branch-safe
// grammar or use the reserved upgrade literal.
var ErrInvalidName = errors.New("invalid name")

// Reserved is the variant name reserved for grove's internal upgrade
// worktrees. User-created variants may not claim it.
const Reserved = "upgrade"

// namePattern is the branch-safe grammar: a leading alphanumeric
// followed by alphanumerics, dots, dashes, and underscores. This
// excludes path separators, leading dots, and every shell
// metacharacter by construction.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Identity names a supervised process: a base mind, or one of its
// variants. The zero value is invalid.
type Identity struct {
	base    string
	variant string
}

// Mind returns the identity of a base mind.
func Mind(base string) Identity {
	return Identity{base: base}
}

// Variant returns the identity of a variant of a base mind.
func Variant(base, name string) Identity {
	return Identity{base: base, variant: name}
}

// Parse parses "base" or "base@variant". Both components must satisfy
// the branch-safe grammar.
func Parse(s string) (Identity, error) {
	base, variant, hasVariant := strings.Cut(s, "@")
	if err := ValidateBaseName(base); err != nil {
		return Identity{}, err
	}
	if !hasVariant {
		return Identity{base: base}, nil
	}
	if err := ValidateVariantName(variant); err != nil {
		return Identity{}, err
	}
	return Identity{base: base, variant: variant}, nil
}

// Base returns the base mind name.
func (i Identity) Base() string { return i.base }

// VariantName returns the variant name, or "" for a base identity.
func (i Identity) VariantName() string { return i.variant }

// IsVariant reports whether the identity names a variant.
func (i Identity) IsVariant() bool { return i.variant != "" }

// String returns "base" or "base@variant".
func (i Identity) String() string {
	if i.variant == "" {
		return i.base
	}
	return i.base + "@" + i.variant
}

// ValidateBaseName checks a base mind name against the grammar.
func ValidateBaseName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty mind name", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: mind name %q", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: mind name %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateVariantName checks a variant name against the branch-safe
// grammar and rejects the reserved upgrade literal.
func ValidateVariantName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty variant name", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: variant name %q", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: variant name %q", ErrInvalidName, name)
	}
	if name == Reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
