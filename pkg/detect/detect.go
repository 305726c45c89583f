// Package detect decides whether a file has to be hashed and stored again.
package detect

import (
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/gentoomaniac/dedup-backup/pkg/manifest"
)

type Kind int

const (
	New Kind = iota
	Modified
	Unchanged
)

func (k Kind) String() string {
	switch k {
	case New:
		return "new"
	case Modified:
		return "modified"
	case Unchanged:
		return "unchanged"
	}
	return "unknown"
}

// Policy controls whether matching size and mtime are trusted as proof of
// unchanged content.
type Policy int

const (
	// PolicyFast reuses the recorded fingerprint when size and mtime match.
	PolicyFast Policy = iota
	// PolicyStrict hashes every file.
	PolicyStrict
)

func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "fast", "":
		return PolicyFast, true
	case "strict":
		return PolicyStrict, true
	}
	return PolicyFast, false
}

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "fast"
}

type Lookup interface {
	Get(path string) (manifest.Entry, bool)
}

type Hasher interface {
	Hash(path string) (hasher.Fingerprint, error)
}

type Decision struct {
	Kind        Kind
	Fingerprint hasher.Fingerprint
	// Previous is the manifest entry the decision was made against.
	Previous *manifest.Entry
	// Hashed is set when the file content was read.
	Hashed bool
}

type Detector struct {
	lookup Lookup
	hasher Hasher
	policy Policy
	full   bool
}

// NewDetector returns a Detector. With full set the manifest is never
// consulted and every file is hashed and reported New.
func NewDetector(lookup Lookup, h Hasher, policy Policy, full bool) *Detector {
	return &Detector{lookup: lookup, hasher: h, policy: policy, full: full}
}

// Decide classifies the file at path, known by relPath in the manifest.
func (d *Detector) Decide(relPath string, size, mtime int64, path string) (Decision, error) {
	if d.full || d.lookup == nil {
		return d.hashAs(New, path)
	}

	old, ok := d.lookup.Get(relPath)
	if !ok {
		return d.hashAs(New, path)
	}
	previous := &old

	if d.policy == PolicyFast && old.Size == size && old.ModTime == mtime {
		return Decision{Kind: Unchanged, Fingerprint: old.Fingerprint, Previous: previous}, nil
	}

	fp, err := d.hasher.Hash(path)
	if err != nil {
		return Decision{}, err
	}
	if fp == old.Fingerprint {
		return Decision{Kind: Unchanged, Fingerprint: fp, Previous: previous, Hashed: true}, nil
	}
	return Decision{Kind: Modified, Fingerprint: fp, Previous: previous, Hashed: true}, nil
}

func (d *Detector) hashAs(kind Kind, path string) (Decision, error) {
	fp, err := d.hasher.Hash(path)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Kind: kind, Fingerprint: fp, Hashed: true}, nil
}
