// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

// Package pattern turns a user supplied glob into the directory to watch and
// a compiled matcher for the file names inside it.
package pattern

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

var (
	// ErrBadPattern is returned for syntactically invalid globs.
	ErrBadPattern = errors.New("invalid glob pattern")

	// ErrRecursivePattern is returned when wildcards appear in the
	// directory portion of a pattern. Only a single directory is watched.
	ErrRecursivePattern = errors.New("wildcards are only supported in the file name")
)

// Target is the immutable result of resolving a pattern at startup.
type Target struct {
	Pattern string // as given by the user
	Dir     string // absolute directory to watch
	Name    string // glob applied to bare file names in Dir
}

// Resolve splits p into the directory to watch and the file name glob. A
// pattern without a parent segment is relative to the working directory.
func Resolve(p string) (Target, error) {
	if p == "" {
		return Target{}, errors.Wrap(ErrBadPattern, "empty pattern")
	}
	slashed := filepath.ToSlash(p)
	if !doublestar.ValidatePattern(slashed) {
		return Target{}, errors.Wrapf(ErrBadPattern, "%q", p)
	}

	base, name := doublestar.SplitPattern(slashed)
	if name == "" || strings.Contains(name, "/") {
		return Target{}, errors.Wrapf(ErrRecursivePattern, "%q", p)
	}

	dir, err := filepath.Abs(filepath.FromSlash(base))
	if err != nil {
		return Target{}, errors.Wrapf(err, "resolving directory of %q", p)
	}
	return Target{Pattern: p, Dir: dir, Name: name}, nil
}

// Matcher compiles the target's file name glob.
func (t Target) Matcher() (*Matcher, error) {
	return Compile(t.Name)
}

// Matcher tests bare file names against a compiled glob.
type Matcher struct {
	source string
	g      glob.Glob
}

// Compile builds a Matcher. Syntax errors surface here, never at match time.
func Compile(name string) (*Matcher, error) {
	if !doublestar.ValidatePattern(name) {
		return nil, errors.Wrapf(ErrBadPattern, "%q", name)
	}
	g, err := glob.Compile(name, '/')
	if err != nil {
		return nil, errors.Wrapf(ErrBadPattern, "%q: %v", name, err)
	}
	return &Matcher{source: name, g: g}, nil
}

// Match reports whether the bare file name satisfies the glob.
func (m *Matcher) Match(name string) bool {
	return m.g.Match(name)
}

// MatchPath matches the last element of path.
func (m *Matcher) MatchPath(path string) bool {
	return m.Match(Identity(path))
}

func (m *Matcher) String() string {
	return m.source
}

// Identity is the registry key for a path observed in the watched directory.
func Identity(path string) string {
	return filepath.Base(path)
}
